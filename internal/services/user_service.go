package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	stderrors "errors"

	"github.com/google/uuid"
	"github.com/velenik/payflow/internal/infrastructure/auth"
	"github.com/velenik/payflow/internal/infrastructure/kafka"
	"github.com/velenik/payflow/internal/infrastructure/redis"
	"github.com/velenik/payflow/internal/models"
	"github.com/velenik/payflow/internal/repository"
	pkgerrors "github.com/velenik/payflow/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const (
	minInitialBalance = 1
	maxInitialBalance = 10000

	userListingCacheKey = "users:all"
	userListingCacheTTL = 5 * time.Minute
)

// SignupInput is the validated shape of a registration request.
type SignupInput struct {
	Username  string
	Password  string
	FirstName string
	LastName  string
}

func (in SignupInput) Validate() error {
	if in.Username == "" {
		return fmt.Errorf("%w: username is required", pkgerrors.ErrInvalidInput)
	}
	if in.Password == "" {
		return fmt.Errorf("%w: password is required", pkgerrors.ErrInvalidInput)
	}
	return nil
}

type SigninInput struct {
	Username string
	Password string
}

func (in SigninInput) Validate() error {
	if in.Username == "" || in.Password == "" {
		return fmt.Errorf("%w: username and password are required", pkgerrors.ErrInvalidInput)
	}
	return nil
}

// CredentialsPatch carries the optional fields of an update request.
// Nil means "leave as is".
type CredentialsPatch struct {
	Password  *string
	FirstName *string
	LastName  *string
}

func (p CredentialsPatch) Validate() error {
	if p.Password != nil && *p.Password == "" {
		return fmt.Errorf("%w: password cannot be empty", pkgerrors.ErrInvalidInput)
	}
	return nil
}

func (p CredentialsPatch) isEmpty() bool {
	return p.Password == nil && p.FirstName == nil && p.LastName == nil
}

// UserSummary is the projection of a user safe to return from search:
// it never carries the password hash.
type UserSummary struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type UserService interface {
	Signup(ctx context.Context, in SignupInput) (string, error)
	Signin(ctx context.Context, in SigninInput) (token string, userID string, err error)
	UpdateCredentials(ctx context.Context, caller auth.VerifiedUserID, patch CredentialsPatch) error
	SearchUsers(ctx context.Context, fragment string) ([]UserSummary, error)
}

type userService struct {
	userRepo      repository.UserRepository
	accountRepo   repository.AccountRepository
	redisClient   redis.RedisClient
	kafkaProducer kafka.KafkaProducer
	tokens        *auth.TokenManager
}

func NewUserService(
	userRepo repository.UserRepository,
	accountRepo repository.AccountRepository,
	redisClient redis.RedisClient,
	kafkaProducer kafka.KafkaProducer,
	tokens *auth.TokenManager,
) *userService {
	return &userService{
		userRepo:      userRepo,
		accountRepo:   accountRepo,
		redisClient:   redisClient,
		kafkaProducer: kafkaProducer,
		tokens:        tokens,
	}
}

// Signup provisions a user and its account as one logical unit. The
// account is written first: if the user insert fails afterwards the
// account is deleted again, so neither record outlives the other.
func (s *userService) Signup(ctx context.Context, in SignupInput) (string, error) {
	tracer := otel.Tracer("user-service")
	ctx, span := tracer.Start(ctx, "Signup")
	defer span.End()

	if err := in.Validate(); err != nil {
		span.SetStatus(codes.Error, "invalid signup input")
		return "", err
	}

	existingUser, err := s.userRepo.GetByUsername(ctx, in.Username)
	if existingUser != nil {
		span.SetStatus(codes.Error, "username already exists")
		slog.Warn("username already exists",
			"username", in.Username,
			"existing_id", existingUser.ID)
		return "", pkgerrors.ErrUsernameExists
	}
	if err != nil && !stderrors.Is(err, pkgerrors.ErrUserNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user check failed")
		slog.Error("failed to check user existence",
			"username", in.Username,
			"error", err)
		return "", fmt.Errorf("%w: failed to check user existence", pkgerrors.ErrInternal)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "password hashing failed")
		slog.Error("failed to hash password",
			"username", in.Username,
			"error", err)
		return "", fmt.Errorf("%w: failed to hash password", pkgerrors.ErrInternal)
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
	}
	initialBalance := rand.Int63n(maxInitialBalance-minInitialBalance+1) + minInitialBalance

	if _, err := s.accountRepo.Create(ctx, user.ID, initialBalance); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "account creation failed")
		slog.Error("failed to create account",
			"user_id", user.ID,
			"username", in.Username,
			"error", err)
		return "", fmt.Errorf("%w: account creation failed", pkgerrors.ErrProvisioningFailed)
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		// Compensate: the account must not outlive a failed user insert.
		if delErr := s.accountRepo.Delete(ctx, user.ID); delErr != nil {
			slog.Error("failed to roll back orphaned account",
				"user_id", user.ID,
				"error", delErr)
		}
		if stderrors.Is(err, pkgerrors.ErrUsernameExists) {
			span.SetStatus(codes.Error, "username already exists")
			return "", pkgerrors.ErrUsernameExists
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "user creation failed")
		slog.Error("failed to create user in DB",
			"username", in.Username,
			"error", err)
		return "", fmt.Errorf("%w: user creation failed", pkgerrors.ErrProvisioningFailed)
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token issuing failed")
		slog.Error("failed to issue token", "user_id", user.ID, "error", err)
		return "", fmt.Errorf("%w: failed to issue token", pkgerrors.ErrInternal)
	}

	event := map[string]interface{}{
		"event_type": "user_registered",
		"user_id":    user.ID,
		"username":   in.Username,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to marshal kafka event",
			"user_id", user.ID,
			"error", err)
	} else {
		go func() {
			retries := 3
			for i := 0; i < retries; i++ {
				if err := s.kafkaProducer.Send(context.Background(), "users", user.ID, eventBytes); err == nil {
					slog.Info("user registration event sent",
						"user_id", user.ID,
						"username", in.Username)
					return
				}
				time.Sleep(time.Second * time.Duration(i+1))
			}
			slog.Error("failed to send user registration event after retries",
				"user_id", user.ID,
				"username", in.Username)
		}()
	}

	slog.Info("user registered successfully",
		"user_id", user.ID,
		"username", in.Username,
		"initial_balance", initialBalance)

	return token, nil
}

func (s *userService) Signin(ctx context.Context, in SigninInput) (string, string, error) {
	tracer := otel.Tracer("user-service")
	ctx, span := tracer.Start(ctx, "Signin")
	defer span.End()

	if err := in.Validate(); err != nil {
		span.SetStatus(codes.Error, "invalid signin input")
		return "", "", err
	}

	user, err := s.userRepo.GetByUsername(ctx, in.Username)
	if err != nil {
		span.SetStatus(codes.Error, "user lookup failed")
		if stderrors.Is(err, pkgerrors.ErrUserNotFound) {
			slog.Warn("signin for unknown user", "username", in.Username)
			return "", "", pkgerrors.ErrUserNotFound
		}
		slog.Error("failed to look up user", "username", in.Username, "error", err)
		return "", "", fmt.Errorf("%w: failed to look up user", pkgerrors.ErrInternal)
	}

	if !auth.VerifyPassword(in.Password, user.PasswordHash) {
		span.SetStatus(codes.Error, "invalid password")
		slog.Warn("invalid password", "username", in.Username)
		return "", "", pkgerrors.ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to issue token", "user_id", user.ID, "error", err)
		return "", "", fmt.Errorf("%w: failed to issue token", pkgerrors.ErrInternal)
	}

	slog.Info("user logged in", "username", in.Username, "user_id", user.ID)
	return token, user.ID, nil
}

// UpdateCredentials applies a partial update for the verified caller.
// The caller id comes from the auth middleware only, never from the
// request payload.
func (s *userService) UpdateCredentials(ctx context.Context, caller auth.VerifiedUserID, patch CredentialsPatch) error {
	tracer := otel.Tracer("user-service")
	ctx, span := tracer.Start(ctx, "UpdateCredentials")
	defer span.End()

	if err := patch.Validate(); err != nil {
		span.SetStatus(codes.Error, "invalid update input")
		return err
	}

	if patch.isEmpty() {
		span.SetStatus(codes.Error, "empty patch")
		return pkgerrors.ErrNothingUpdated
	}

	repoPatch := repository.UserPatch{
		FirstName: patch.FirstName,
		LastName:  patch.LastName,
	}
	if patch.Password != nil {
		hash, err := auth.HashPassword(*patch.Password)
		if err != nil {
			span.RecordError(err)
			slog.Error("failed to hash password", "user_id", string(caller), "error", err)
			return fmt.Errorf("%w: failed to hash password", pkgerrors.ErrInternal)
		}
		repoPatch.PasswordHash = &hash
	}

	updated, err := s.userRepo.UpdateFields(ctx, string(caller), repoPatch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		slog.Error("failed to update credentials", "user_id", string(caller), "error", err)
		return fmt.Errorf("%w: failed to update credentials", pkgerrors.ErrInternal)
	}
	if updated == 0 {
		span.SetStatus(codes.Error, "nothing updated")
		return pkgerrors.ErrNothingUpdated
	}

	slog.Info("credentials updated", "user_id", string(caller))
	return nil
}

// SearchUsers matches fragment against first or last name, case
// insensitively. The empty fragment lists everyone and is served from
// the redis cache when warm.
func (s *userService) SearchUsers(ctx context.Context, fragment string) ([]UserSummary, error) {
	tracer := otel.Tracer("user-service")
	ctx, span := tracer.Start(ctx, "SearchUsers")
	defer span.End()

	if fragment == "" {
		if cached, err := s.redisClient.Get(ctx, userListingCacheKey); err == nil {
			var users []UserSummary
			if err := json.Unmarshal([]byte(cached), &users); err != nil {
				slog.Error("failed to unmarshal cached user listing", "error", err)
			} else {
				slog.Info("user listing served from cache", "count", len(users))
				return users, nil
			}
		}
	}

	found, err := s.userRepo.SearchByName(ctx, fragment)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		slog.Error("failed to search users", "error", err)
		return nil, fmt.Errorf("%w: failed to search users", pkgerrors.ErrInternal)
	}

	users := make([]UserSummary, 0, len(found))
	for _, u := range found {
		users = append(users, UserSummary{
			ID:        u.ID,
			Username:  u.Username,
			FirstName: u.FirstName,
			LastName:  u.LastName,
		})
	}

	if fragment == "" {
		if payload, err := json.Marshal(users); err == nil {
			if err := s.redisClient.Set(ctx, userListingCacheKey, string(payload), userListingCacheTTL); err != nil {
				slog.Error("failed to cache user listing", "error", err)
			}
		}
	}

	slog.Info("users searched", "fragment", fragment, "count", len(users))
	return users, nil
}
