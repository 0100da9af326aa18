package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"eventmarket/server/internal/api"
	"eventmarket/server/internal/api/handlers"
	"eventmarket/server/internal/auth"
	"eventmarket/server/internal/config"
	"eventmarket/server/internal/models"
	"eventmarket/server/internal/services"
	"eventmarket/server/internal/storage"
	"eventmarket/server/internal/tasks"
	"eventmarket/server/internal/utils"
)

const seedPassword = "correct-horse"

var (
	sophieID = utils.MustParseSixID("SEEDC00001") // client
	lucasID  = utils.MustParseSixID("SEEDC00002") // client
	novaID   = utils.MustParseSixID("SEEDP00001") // provider
)

func init() {
	auth.PasswordCost = bcrypt.MinCost
}

// testEnv is the full API over in-memory stores, with S3 and the task queue mocked.
type testEnv struct {
	t             *testing.T
	cfg           *config.Config
	router        *gin.Engine
	users         services.IUserService
	listings      services.IListingService
	quotes        services.IQuoteService
	conversations services.IConversationService
	reviews       services.IReviewService
	storage       *MockS3Storage
	queue         *MockAsynqClient
}

func newTestEnv(t *testing.T, withStorage bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		JwtSecret:           "testsecret",
		JwtTTL:              time.Hour,
		AppName:             "TestApp",
		RateLimitBucketSize: 1000,
		RateLimitRefillRate: 1000,
	}
	identity := services.ContextIdentityProvider{}
	snapshots := services.NewMemorySnapshotStore()
	env := &testEnv{t: t, cfg: cfg, storage: new(MockS3Storage), queue: new(MockAsynqClient)}
	env.users = services.NewUserService(snapshots)
	env.quotes = services.NewQuoteService(cfg, identity, snapshots)
	env.reviews = services.NewReviewService(identity, env.quotes, snapshots)
	env.listings = services.NewListingService(cfg, identity, env.users, env.reviews, snapshots)
	env.conversations = services.NewConversationService(cfg, identity, env.users, snapshots)
	require.NoError(t, env.users.Seed(context.Background(), services.DefaultSeedUsers(seedPassword)))

	env.queue.On("EnqueueContext", mock.Anything, mock.Anything).Return(&asynq.TaskInfo{}, nil).Maybe()

	svc := api.Services{
		Users:         env.users,
		Listings:      env.listings,
		Quotes:        env.quotes,
		Conversations: env.conversations,
		Reviews:       env.reviews,
		Dispatcher:    tasks.NewDispatcher(env.queue),
	}
	if withStorage {
		svc.Storage = env.storage
	}
	router, stop := api.SetupRouter(cfg, svc)
	t.Cleanup(stop)
	env.router = router
	return env
}

func (e *testEnv) token(id utils.SixID) string {
	user, err := e.users.FindByID(context.Background(), id)
	require.NoError(e.t, err)
	token, err := auth.GenerateJWT(user.Actor(), e.cfg.JwtSecret, e.cfg.JwtTTL)
	require.NoError(e.t, err)
	return token
}

// as returns a context carrying the actor, for driving services directly.
func (e *testEnv) as(id utils.SixID) context.Context {
	user, err := e.users.FindByID(context.Background(), id)
	require.NoError(e.t, err)
	return services.WithActor(context.Background(), user.Actor())
}

// do sends a request as the given user; a zero id sends no token.
func (e *testEnv) do(method, path string, body interface{}, as utils.SixID) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")
	if !as.IsZero() {
		req.Header.Set("Authorization", "Bearer "+e.token(as))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// call invokes a JSON API method with a single argument (nil for none).
func (e *testEnv) call(method string, arg interface{}, as utils.SixID) handlers.JsonApiResponse {
	req := map[string]interface{}{"method": method}
	if arg != nil {
		req["arguments"] = []interface{}{arg}
	}
	w := e.do(http.MethodPost, "/v1/api", req, as)
	require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
	var resp handlers.JsonApiResponse
	require.NoError(e.t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// decodeData re-decodes a JSON API payload into dest.
func decodeData(t *testing.T, data interface{}, dest interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dest))
}

// enqueued lists the task types sent to the queue so far.
func (e *testEnv) enqueued() []string {
	var out []string
	for _, call := range e.queue.Calls {
		if call.Method == "EnqueueContext" {
			out = append(out, call.Arguments.Get(1).(*asynq.Task).Type())
		}
	}
	return out
}

// publishedListing creates and publishes a listing owned by the provider.
func (e *testEnv) publishedListing(owner utils.SixID, title string) *models.Listing {
	ctx := e.as(owner)
	listing, err := e.listings.CreateListing(ctx, services.ListingInput{
		Title:    title,
		Category: "Music",
		Tags:     []string{"wedding"},
		Location: models.ListingLocation{City: "Paris", Latitude: 48.8566, Longitude: 2.3522},
		Price:    450,
	})
	require.NoError(e.t, err)
	require.NoError(e.t, e.listings.PublishListing(ctx, listing.ID))
	return listing
}

var _ storage.IS3Storage = (*MockS3Storage)(nil)
