package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"eventmarket/server/internal/api"
	"eventmarket/server/internal/cache"
	"eventmarket/server/internal/config"
	"eventmarket/server/internal/db"
	"eventmarket/server/internal/email"
	"eventmarket/server/internal/models"
	"eventmarket/server/internal/services"
	"eventmarket/server/internal/storage"
	"eventmarket/server/internal/tasks"
	"eventmarket/server/internal/utils"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (background tasks), 'img' (image processing), 'all' (default), 'search' (interactive listing search)")

// needsRedis reports whether this process must connect to Redis.
func needsRedis(cfg *config.Config) bool {
	return cfg.RunMode != "search" || cfg.StorageBackend == config.StorageRedis || cfg.MockServices
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*runMode)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var mongoDb *mongo.Database
	if cfg.StorageBackend == config.StorageMongo {
		mongoClient, database, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		mongoDb = database
		defer func() {
			if err := db.DisconnectDB(mongoClient); err != nil {
				log.Printf("Error disconnecting from MongoDB: %v", err)
			}
		}()
	}

	var redisClient *redis.Client
	if needsRedis(cfg) {
		redisClient, err = cache.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer func() {
			if err := cache.DisconnectRedis(redisClient); err != nil {
				log.Printf("Error disconnecting from Redis: %v", err)
			}
		}()
	}

	var snapshots services.ISnapshotStore
	switch cfg.StorageBackend {
	case config.StorageMongo:
		snapshots = db.NewSnapshotStore(mongoDb)
	case config.StorageRedis:
		snapshots = cache.NewSnapshotStore(redisClient)
	default:
		snapshots = services.NewMemorySnapshotStore()
	}

	// Every service reads the actor from the request context set by the auth middleware.
	identity := services.ContextIdentityProvider{}
	userService := services.NewUserService(snapshots)
	quoteService := services.NewQuoteService(cfg, identity, snapshots)
	reviewService := services.NewReviewService(identity, quoteService, snapshots)
	listingService := services.NewListingService(cfg, identity, userService, reviewService, snapshots)
	conversationService := services.NewConversationService(cfg, identity, userService, snapshots)

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	for name, store := range map[string]interface{ Load(context.Context) error }{
		"users":         userService,
		"quotes":        quoteService,
		"reviews":       reviewService,
		"listings":      listingService,
		"conversations": conversationService,
	} {
		if err := store.Load(loadCtx); err != nil {
			log.Fatalf("Failed to load %s store: %v", name, err)
		}
	}
	if cfg.SeedDirectory {
		if err := userService.Seed(loadCtx, services.DefaultSeedUsers(cfg.SeedPassword)); err != nil {
			log.Fatalf("Failed to seed user directory: %v", err)
		}
	}
	// Only processes that serve reads seed listings, so split workers never race on them.
	if cfg.SeedDirectory && cfg.RunMode != "bg" && cfg.RunMode != "img" {
		if err := seedDemoListings(loadCtx, listingService); err != nil {
			log.Printf("WARNING: Failed to seed demo listings: %v", err)
		}
	}
	cancelLoad()

	if cfg.RunMode == "search" {
		runSearch(cfg, listingService)
		return
	}

	// S3 is optional: without a bucket uploads are refused and image tasks are not served.
	var s3StorageService storage.IS3Storage
	if cfg.AwsS3Bucket != "" {
		s3StorageService, err = storage.NewS3Storage(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize S3 storage: %v", err)
		}
	} else {
		log.Println("AWS_S3_BUCKET not set: image uploads disabled.")
	}

	var primaryEmailSender email.Sender
	if cfg.MockServices {
		log.Println("MOCK_SERVICES enabled: Using Redis email sender.")
		primaryEmailSender = email.NewRedisSender(redisClient, cfg.SmtpFromAddress)
	} else {
		log.Println("MOCK_SERVICES disabled or not set: Using SMTP/Logging email sender.")
		primaryEmailSender = email.NewSMTPSender(cfg)
	}
	compositeSender := email.NewCompositeEmailSender(primaryEmailSender)
	if cfg.LogEmailsPath != "" {
		log.Printf("LOG_EMAILS set to '%s', enabling file email logger.", cfg.LogEmailsPath)
		fileSender, err := email.NewFileEmailSender(cfg.LogEmailsPath)
		if err != nil {
			log.Printf("WARNING: Failed to initialize file email sender (LOG_EMAILS='%s'): %v. Proceeding without file logging.", cfg.LogEmailsPath, err)
		} else {
			compositeSender.AddSender(fileSender)
		}
	}

	taskClient := tasks.NewClient(redisClient)
	defer taskClient.Close()
	dispatcher := tasks.NewDispatcher(taskClient)
	taskProcessor := tasks.NewTaskProcessor(cfg, compositeSender, s3StorageService, userService)

	var wg sync.WaitGroup
	shutdownChan := make(chan struct{}, 1)

	// Service API always runs
	var serviceRdb *redis.Client
	if cfg.MockServices {
		serviceRdb = redisClient
	}
	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: api.SetupServiceRouter(cfg, serviceRdb, shutdownChan),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		fmt.Printf("Service API listening on :%s\n", cfg.ServiceApiPort)
		if err := serviceSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Service API ListenAndServe error: %v", err)
		}
		fmt.Println("Service API server stopped.")
	}()

	var mainApiSrv *http.Server
	var stopRateLimiter func()
	var taskSrv *asynq.Server

	fmt.Printf("Starting application in '%s' mode...\n", cfg.RunMode)

	startAPI := func() {
		var router http.Handler
		router, stopRateLimiter = api.SetupRouter(cfg, api.Services{
			Users:         userService,
			Listings:      listingService,
			Quotes:        quoteService,
			Conversations: conversationService,
			Reviews:       reviewService,
			Storage:       s3StorageService,
			Dispatcher:    dispatcher,
		})
		mainApiSrv = &http.Server{Addr: ":" + cfg.ApiPort, Handler: router}
		wg.Add(1)
		go func() {
			defer wg.Done()
			fmt.Printf("Main API listening on :%s\n", cfg.ApiPort)
			if err := mainApiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Main API ListenAndServe error: %v", err)
			}
			fmt.Println("Main API server stopped.")
		}()
	}

	startWorkers := func(images, background bool) {
		if images && s3StorageService == nil {
			log.Println("Image worker requested without S3 storage; skipping image queue.")
			images = false
		}
		srv, mux := tasks.SetupServer(redisClient, taskProcessor, images, background)
		if srv == nil {
			return
		}
		taskSrv = srv
		wg.Add(1)
		go func() {
			defer wg.Done()
			fmt.Println("Task server starting...")
			if err := srv.Run(mux); err != nil {
				log.Fatalf("Task server error: %v", err)
			}
			fmt.Println("Task server stopped.")
		}()
	}

	switch cfg.RunMode {
	case "api":
		startAPI()
	case "bg":
		startWorkers(false, true)
	case "img":
		startWorkers(true, false)
	case "all":
		startAPI()
		startWorkers(true, true)
	default:
		log.Fatalf("Invalid run mode specified in config: %s.", cfg.RunMode)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		fmt.Printf("\nReceived signal: %s. Shutting down gracefully...\n", sig)
	case <-shutdownChan:
		fmt.Println("\nShutdown requested via Service API. Shutting down gracefully...")
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	fmt.Println("Shutting down Service API server...")
	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		log.Printf("Service API server shutdown error: %v", err)
	}
	if mainApiSrv != nil {
		fmt.Println("Shutting down Main API server...")
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			log.Printf("Main API server shutdown error: %v", err)
		}
		stopRateLimiter()
	}
	if taskSrv != nil {
		fmt.Println("Shutting down Task server...")
		taskSrv.Shutdown()
	}

	fmt.Println("Waiting for servers to stop...")
	wg.Wait()
	fmt.Println("Server gracefully stopped")
}

// runSearch reads queries from stdin, one per line, and prints results once typing pauses.
// A line of the form "category:<name>" switches the category filter.
func runSearch(cfg *config.Config, listings services.IListingService) {
	printResults := func(q services.SearchQuery) {
		results := listings.SearchListings(context.Background(), q)
		fmt.Printf("%d result(s) for %q in %q\n", len(results), q.Query, q.Category)
		for _, l := range results {
			fmt.Printf("  %s  %-30s %-12s %s\n", l.ID, l.Title, l.Category, l.Location.City)
		}
	}
	debouncer := services.NewSearchDebouncer(cfg.SearchDebounce, printResults)
	defer debouncer.Stop()

	fmt.Println("Type to search listings (Ctrl-D to quit).")
	var q services.SearchQuery
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if category, ok := strings.CutPrefix(line, "category:"); ok {
			q.Category = strings.TrimSpace(category)
		} else {
			q.Query = line
		}
		debouncer.Submit(q)
	}
	debouncer.Flush()
	if err := scanner.Err(); err != nil {
		log.Printf("Error reading stdin: %v", err)
	}
}

// seedDemoListings publishes one listing per seeded provider or business, once.
func seedDemoListings(ctx context.Context, listings services.IListingService) error {
	if len(listings.ListListings(ctx)) > 0 {
		return nil
	}
	demo := []struct {
		owner string
		role  models.Role
		in    services.ListingInput
	}{
		{"SEEDP00001", models.RoleProvider, services.ListingInput{
			Title: "DJ Nova", Description: "Wedding and party DJ, sound and lights included.",
			Category: "Music", Tags: []string{"wedding", "techno", "party"},
			Location: models.ListingLocation{City: "Paris", Latitude: 48.8566, Longitude: 2.3522}, Price: 450,
		}},
		{"SEEDP00002", models.RoleProvider, services.ListingInput{
			Title: "Atelier Fleurs", Description: "Seasonal floral design for ceremonies and receptions.",
			Category: "Flowers", Tags: []string{"wedding", "decoration"},
			Location: models.ListingLocation{City: "Versailles", Latitude: 48.8049, Longitude: 2.1204}, Price: 300,
		}},
		{"SEEDB00001", models.RoleBusiness, services.ListingInput{
			Title: "Chateau Lumiere", Description: "Eighteenth-century chateau for up to 200 guests.",
			Category: "Venue", Tags: []string{"venue", "wedding", "gala"},
			Location: models.ListingLocation{City: "Paris", Latitude: 48.86, Longitude: 2.34}, Price: 5000,
		}},
	}
	for _, d := range demo {
		owner, err := utils.ParseSixID(d.owner)
		if err != nil {
			return err
		}
		asOwner := services.WithActor(ctx, models.Actor{ID: owner, Role: d.role})
		listing, err := listings.CreateListing(asOwner, d.in)
		if err != nil {
			return fmt.Errorf("seed listing %q: %w", d.in.Title, err)
		}
		if err := listings.PublishListing(asOwner, listing.ID); err != nil {
			return fmt.Errorf("publish seed listing %q: %w", d.in.Title, err)
		}
	}
	log.Printf("Seeded %d demo listings", len(demo))
	return nil
}
