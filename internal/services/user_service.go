package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"sync"
	"time"

	"eventmarket/server/internal/auth"
	"eventmarket/server/internal/db"
	"eventmarket/server/internal/models"
	"eventmarket/server/internal/utils"
)

// ErrEmailExists is returned when an attempt is made to use an email that already exists.
var ErrEmailExists = errors.New("email already in use by another account")

// ErrInvalidCredentials is returned by Authenticate for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid email or password")

// IUserDirectory is the read side of the known-users directory used for display fields.
type IUserDirectory interface {
	FindByID(ctx context.Context, userID utils.SixID) (*models.User, error)
}

// IUserService defines the known-users directory.
type IUserService interface {
	IUserDirectory
	Load(ctx context.Context) error
	Seed(ctx context.Context, seeds []SeedUser) error
	CreateUser(ctx context.Context, in CreateUserInput) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	ListUsers(ctx context.Context) []*models.User
}

// CreateUserInput describes a new directory entry.
type CreateUserInput struct {
	Name     string
	Email    string
	Password string
	Role     models.Role
	Image    string
	City     string
}

// SeedUser is a directory entry with a fixed id, loaded on first start.
type SeedUser struct {
	ID utils.SixID
	CreateUserInput
}

// storedUser keeps the password hash, which models.User never serialises.
type storedUser struct {
	models.User
	PasswordHash string `json:"password_hash"`
}

func (u *storedUser) public() *models.User {
	cp := u.User
	cp.PasswordHash = ""
	return &cp
}

type userService struct {
	mu        sync.RWMutex
	users     []*storedUser
	snapshots ISnapshotStore
	now       func() time.Time
}

// NewUserService creates a new UserService.
func NewUserService(snapshots ISnapshotStore) IUserService {
	if snapshots == nil {
		snapshots = NewMemorySnapshotStore()
	}
	return &userService{
		snapshots: snapshots,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *userService) Load(ctx context.Context) error {
	var users []*storedUser
	found, err := s.snapshots.LoadSnapshot(ctx, snapshotUsers, &users)
	if err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}
	if found {
		s.mu.Lock()
		s.users = users
		s.mu.Unlock()
		log.Printf("Loaded %d directory users", len(users))
	}
	return nil
}

func (s *userService) findLocked(match func(u *storedUser) bool) *storedUser {
	for _, u := range s.users {
		if match(u) {
			return u
		}
	}
	return nil
}

func (s *userService) buildUser(id utils.SixID, in CreateUserInput) (*storedUser, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("name is required: %w", ErrValidation)
	}
	email := normalizeEmail(in.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("invalid email %q: %w", in.Email, ErrValidation)
	}
	role, err := models.ParseRole(string(in.Role))
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrValidation)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrValidation)
	}
	return &storedUser{
		User: models.User{
			Base:      models.Base{ID: id},
			Name:      strings.TrimSpace(in.Name),
			Email:     email,
			Image:     in.Image,
			Role:      role,
			City:      in.City,
			CreatedAt: s.now(),
		},
		PasswordHash: hash,
	}, nil
}

// Seed adds any seed users whose id is not yet in the directory.
func (s *userService) Seed(ctx context.Context, seeds []SeedUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.users[:len(s.users):len(s.users)]
	added := 0
	for _, seed := range seeds {
		if s.findLocked(func(u *storedUser) bool { return u.ID == seed.ID }) != nil {
			continue
		}
		u, err := s.buildUser(seed.ID, seed.CreateUserInput)
		if err != nil {
			return fmt.Errorf("invalid seed user %s: %w", seed.ID, err)
		}
		next = append(next, u)
		added++
	}
	if added == 0 {
		return nil
	}
	if err := s.snapshots.SaveSnapshot(ctx, snapshotUsers, next); err != nil {
		return fmt.Errorf("failed to persist users: %w", err)
	}
	s.users = next
	log.Printf("Seeded %d directory users", added)
	return nil
}

// CreateUser adds a directory entry with a bcrypt-hashed password.
func (s *userService) CreateUser(ctx context.Context, in CreateUserInput) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := normalizeEmail(in.Email)
	if s.findLocked(func(u *storedUser) bool { return u.Email == email }) != nil {
		return nil, ErrEmailExists
	}

	var created *storedUser
	err := db.Try(func() error {
		id := utils.NewSixID()
		if s.findLocked(func(u *storedUser) bool { return u.ID == id }) != nil {
			return fmt.Errorf("user %s: %w", id, db.ErrDuplicateID)
		}
		u, err := s.buildUser(id, in)
		if err != nil {
			return err
		}
		created = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	next := append(s.users[:len(s.users):len(s.users)], created)
	if err := s.snapshots.SaveSnapshot(ctx, snapshotUsers, next); err != nil {
		return nil, fmt.Errorf("failed to persist users: %w", err)
	}
	s.users = next
	log.Printf("User %s created (%s)", created.ID, created.Role)
	return created.public(), nil
}

func (s *userService) FindByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := s.findLocked(func(u *storedUser) bool { return u.ID == userID })
	if u == nil {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return u.public(), nil
}

func (s *userService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	email = normalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := s.findLocked(func(u *storedUser) bool { return u.Email == email })
	if u == nil {
		return nil, fmt.Errorf("user with email %s: %w", email, ErrNotFound)
	}
	return u.public(), nil
}

// Authenticate checks a password login. Unknown emails and wrong passwords are indistinguishable.
func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	email = normalizeEmail(email)
	s.mu.RLock()
	u := s.findLocked(func(u *storedUser) bool { return u.Email == email })
	s.mu.RUnlock()
	if u == nil || !auth.CheckPasswordHash(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return u.public(), nil
}

func (s *userService) ListUsers(ctx context.Context) []*models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.public())
	}
	return out
}

// DefaultSeedUsers is the demo directory: two clients, two providers and a venue business.
func DefaultSeedUsers(password string) []SeedUser {
	seed := func(id, name, email string, role models.Role, city string) SeedUser {
		return SeedUser{
			ID: utils.MustParseSixID(id),
			CreateUserInput: CreateUserInput{
				Name: name, Email: email, Password: password, Role: role, City: city,
				Image: "avatars/" + strings.ToLower(id) + ".jpg",
			},
		}
	}
	return []SeedUser{
		seed("SEEDC00001", "Sophie Martin", "sophie@example.com", models.RoleClient, "Paris"),
		seed("SEEDC00002", "Lucas Bernard", "lucas@example.com", models.RoleClient, "Lyon"),
		seed("SEEDP00001", "DJ Nova", "nova@example.com", models.RoleProvider, "Paris"),
		seed("SEEDP00002", "Atelier Fleurs", "fleurs@example.com", models.RoleProvider, "Versailles"),
		seed("SEEDB00001", "Chateau Lumiere", "events@chateau-lumiere.example.com", models.RoleBusiness, "Paris"),
	}
}
