package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/geocoder89/barterhub/internal/domain/user"
	"github.com/geocoder89/barterhub/internal/security"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
)

type UserStore interface {
	Create(ctx context.Context, u user.User) error
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	GetByIDs(ctx context.Context, ids []string) ([]user.User, error)
}

// Service owns users and their credentials. Users never change after signup,
// so lookups by id are served from an LRU.
type Service struct {
	users    UserStore
	cache    *lru.Cache
	validate *validator.Validate
	log      *slog.Logger
}

func NewService(users UserStore, cacheSize int, log *slog.Logger) (*Service, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	v := validator.New()
	v.SetTagName("binding")

	return &Service{users: users, cache: cache, validate: v, log: log}, nil
}

func (s *Service) Register(ctx context.Context, req user.SignUpRequest) (user.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = user.NormalizeEmail(req.Email)

	if err := s.validate.Struct(req); err != nil {
		return user.User{}, fmt.Errorf("%w: %v", user.ErrValidation, err)
	}

	hash, err := security.HashPassword(req.Password)
	if errors.Is(err, security.ErrPasswordTooLong) {
		return user.User{}, fmt.Errorf("%w: %v", user.ErrValidation, err)
	}
	if err != nil {
		return user.User{}, fmt.Errorf("hash password: %w", err)
	}

	u := user.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         user.RoleUser,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.users.Create(ctx, u); err != nil {
		return user.User{}, err
	}

	s.cache.Add(u.ID, u)
	return u, nil
}

// Authenticate returns user.ErrNotFound for an unknown email and
// user.ErrInvalidCredential when the password does not match.
func (s *Service) Authenticate(ctx context.Context, email, password string) (user.User, error) {
	u, err := s.users.GetByEmail(ctx, user.NormalizeEmail(email))
	if err != nil {
		return user.User{}, err
	}

	if err := security.CheckPassword(u.PasswordHash, password); err != nil {
		if !errors.Is(err, security.ErrPasswordMismatch) {
			s.log.ErrorContext(ctx, "stored password hash unusable", "user_id", u.ID, "err", err)
		}
		return user.User{}, user.ErrInvalidCredential
	}
	return u, nil
}

func (s *Service) FindByID(ctx context.Context, id string) (user.User, error) {
	if v, ok := s.cache.Get(id); ok {
		return v.(user.User), nil
	}

	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return user.User{}, err
	}
	s.cache.Add(u.ID, u)
	return u, nil
}

// FindByIDs resolves many users at once; unknown ids are absent from the map.
func (s *Service) FindByIDs(ctx context.Context, ids []string) (map[string]user.User, error) {
	out := make(map[string]user.User, len(ids))
	var missing []string

	for _, id := range ids {
		if _, seen := out[id]; seen {
			continue
		}
		if v, ok := s.cache.Get(id); ok {
			out[id] = v.(user.User)
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) == 0 {
		return out, nil
	}

	found, err := s.users.GetByIDs(ctx, dedupe(missing))
	if err != nil {
		return nil, err
	}
	for _, u := range found {
		out[u.ID] = u
		s.cache.Add(u.ID, u)
	}
	return out, nil
}

type AdminSeed struct {
	Username string
	Email    string
	Password string
}

// EnsureAdmin creates the configured admin account unless the email is already registered.
func (s *Service) EnsureAdmin(ctx context.Context, seed AdminSeed) error {
	if seed.Email == "" || seed.Password == "" {
		return nil
	}

	email := user.NormalizeEmail(seed.Email)

	_, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, user.ErrNotFound) {
		return err
	}

	hash, err := security.HashPassword(seed.Password)
	if err != nil {
		return err
	}

	username := seed.Username
	if username == "" {
		username = "admin"
	}

	u := user.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         user.RoleAdmin,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.users.Create(ctx, u); err != nil {
		// another instance seeded it first
		if errors.Is(err, user.ErrEmailTaken) {
			return nil
		}
		return err
	}

	s.log.Info("admin user created", "email", email)
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
