package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/velenik/payflow/internal/infrastructure/auth"
	"github.com/velenik/payflow/internal/infrastructure/redis"
	"github.com/velenik/payflow/internal/models"
	"github.com/velenik/payflow/internal/repository"
	pkgerrors "github.com/velenik/payflow/pkg/errors"
)

type stubUserRepo struct {
	mu          sync.Mutex
	byID        map[string]*models.User
	createErr   error
	searchCalls int
	updateCalls int
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{byID: map[string]*models.User{}}
}

func (r *stubUserRepo) Create(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, u := range r.byID {
		if u.Username == user.Username {
			return pkgerrors.ErrUsernameExists
		}
	}
	user.CreatedAt = time.Now()
	cp := *user
	r.byID[user.ID] = &cp
	return nil
}

func (r *stubUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, pkgerrors.ErrUserNotFound
}

func (r *stubUserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, pkgerrors.ErrUserNotFound
}

func (r *stubUserRepo) UpdateFields(ctx context.Context, id string, patch repository.UserPatch) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCalls++
	u, ok := r.byID[id]
	if !ok || patch.IsEmpty() {
		return 0, nil
	}
	if patch.PasswordHash != nil {
		u.PasswordHash = *patch.PasswordHash
	}
	if patch.FirstName != nil {
		u.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		u.LastName = *patch.LastName
	}
	return 1, nil
}

func (r *stubUserRepo) SearchByName(ctx context.Context, fragment string) ([]models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searchCalls++
	needle := strings.ToLower(fragment)
	var users []models.User
	for _, u := range r.byID {
		if strings.Contains(strings.ToLower(u.FirstName), needle) ||
			strings.Contains(strings.ToLower(u.LastName), needle) {
			users = append(users, models.User{
				ID:        u.ID,
				Username:  u.Username,
				FirstName: u.FirstName,
				LastName:  u.LastName,
			})
		}
	}
	return users, nil
}

type stubAccountRepo struct {
	mu        sync.Mutex
	byOwner   map[string]*models.Account
	createErr error
}

func newStubAccountRepo() *stubAccountRepo {
	return &stubAccountRepo{byOwner: map[string]*models.Account{}}
}

func (r *stubAccountRepo) Create(ctx context.Context, ownerID string, initialBalance int64) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	if _, ok := r.byOwner[ownerID]; ok {
		return nil, pkgerrors.ErrAccountExists
	}
	account := &models.Account{OwnerID: ownerID, Balance: initialBalance, CreatedAt: time.Now()}
	r.byOwner[ownerID] = account
	return account, nil
}

func (r *stubAccountRepo) GetByOwner(ctx context.Context, ownerID string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.byOwner[ownerID]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, pkgerrors.ErrAccountNotFound
}

func (r *stubAccountRepo) Delete(ctx context.Context, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byOwner[ownerID]; !ok {
		return pkgerrors.ErrAccountNotFound
	}
	delete(r.byOwner, ownerID)
	return nil
}

func (r *stubAccountRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byOwner)
}

type stubRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newStubRedis() *stubRedis {
	return &stubRedis{data: map[string]string{}}
}

func (c *stubRedis) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.data[key]; ok {
		return v, nil
	}
	return "", redis.ErrKeyNotFound
}

func (c *stubRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = fmt.Sprint(value)
	return nil
}

func (c *stubRedis) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *stubRedis) Close() error { return nil }

type stubProducer struct {
	mu   sync.Mutex
	sent int
}

func (p *stubProducer) Send(ctx context.Context, topic string, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent++
	return nil
}

func (p *stubProducer) Close() error { return nil }

func newTestService(t *testing.T) (*userService, *stubUserRepo, *stubAccountRepo, *stubRedis, *auth.TokenManager) {
	t.Helper()
	userRepo := newStubUserRepo()
	accountRepo := newStubAccountRepo()
	redisClient := newStubRedis()
	tm, err := auth.NewTokenManager("secret", 0)
	assert.NoError(t, err)
	svc := NewUserService(userRepo, accountRepo, redisClient, &stubProducer{}, tm)
	return svc, userRepo, accountRepo, redisClient, tm
}

func TestUserService_Signup(t *testing.T) {
	ctx := context.Background()

	t.Run("provisions user and account together", func(t *testing.T) {
		svc, userRepo, accountRepo, _, tm := newTestService(t)

		token, err := svc.Signup(ctx, SignupInput{
			Username:  "alice",
			Password:  "pw1234",
			FirstName: "Alice",
			LastName:  "A",
		})
		assert.NoError(t, err)

		userID, err := tm.Verify(token)
		assert.NoError(t, err)

		user, err := userRepo.GetByID(ctx, userID)
		assert.NoError(t, err)
		assert.Equal(t, "alice", user.Username)
		assert.True(t, auth.VerifyPassword("pw1234", user.PasswordHash))

		account, err := accountRepo.GetByOwner(ctx, userID)
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, account.Balance, int64(1))
		assert.LessOrEqual(t, account.Balance, int64(10000))
	})

	t.Run("missing fields fail validation with no side effects", func(t *testing.T) {
		svc, userRepo, accountRepo, _, _ := newTestService(t)

		_, err := svc.Signup(ctx, SignupInput{Username: "", Password: "pw1234"})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)

		_, err = svc.Signup(ctx, SignupInput{Username: "bob", Password: ""})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)

		assert.Empty(t, userRepo.byID)
		assert.Equal(t, 0, accountRepo.count())
	})

	t.Run("duplicate username creates no second account", func(t *testing.T) {
		svc, _, accountRepo, _, _ := newTestService(t)

		_, err := svc.Signup(ctx, SignupInput{Username: "alice", Password: "pw1234"})
		assert.NoError(t, err)

		_, err = svc.Signup(ctx, SignupInput{Username: "alice", Password: "other"})
		assert.ErrorIs(t, err, pkgerrors.ErrUsernameExists)
		assert.Equal(t, 1, accountRepo.count())
	})

	t.Run("failed user insert rolls the account back", func(t *testing.T) {
		svc, userRepo, accountRepo, _, _ := newTestService(t)
		userRepo.createErr = fmt.Errorf("db down")

		_, err := svc.Signup(ctx, SignupInput{Username: "alice", Password: "pw1234"})
		assert.ErrorIs(t, err, pkgerrors.ErrProvisioningFailed)
		assert.Equal(t, 0, accountRepo.count())
	})

	t.Run("failed account insert aborts before the user is stored", func(t *testing.T) {
		svc, userRepo, accountRepo, _, _ := newTestService(t)
		accountRepo.createErr = fmt.Errorf("db down")

		_, err := svc.Signup(ctx, SignupInput{Username: "alice", Password: "pw1234"})
		assert.ErrorIs(t, err, pkgerrors.ErrProvisioningFailed)
		assert.Empty(t, userRepo.byID)
	})
}

func TestUserService_Signin(t *testing.T) {
	ctx := context.Background()

	t.Run("signup then signin returns the same user id", func(t *testing.T) {
		svc, _, _, _, tm := newTestService(t)

		signupToken, err := svc.Signup(ctx, SignupInput{Username: "alice", Password: "pw1234"})
		assert.NoError(t, err)
		signupID, err := tm.Verify(signupToken)
		assert.NoError(t, err)

		token, userID, err := svc.Signin(ctx, SigninInput{Username: "alice", Password: "pw1234"})
		assert.NoError(t, err)
		assert.Equal(t, signupID, userID)

		tokenID, err := tm.Verify(token)
		assert.NoError(t, err)
		assert.Equal(t, signupID, tokenID)
	})

	t.Run("wrong password", func(t *testing.T) {
		svc, _, _, _, _ := newTestService(t)

		_, err := svc.Signup(ctx, SignupInput{Username: "alice", Password: "pw1234"})
		assert.NoError(t, err)

		_, _, err = svc.Signin(ctx, SigninInput{Username: "alice", Password: "wrong"})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		svc, _, _, _, _ := newTestService(t)

		_, _, err := svc.Signin(ctx, SigninInput{Username: "nobody", Password: "pw1234"})
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
	})

	t.Run("missing fields", func(t *testing.T) {
		svc, _, _, _, _ := newTestService(t)

		_, _, err := svc.Signin(ctx, SigninInput{Username: "alice"})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})
}

func TestUserService_UpdateCredentials(t *testing.T) {
	ctx := context.Background()

	t.Run("empty patch touches nothing", func(t *testing.T) {
		svc, userRepo, _, _, tm := newTestService(t)

		token, err := svc.Signup(ctx, SignupInput{Username: "alice", Password: "pw1234"})
		assert.NoError(t, err)
		userID, err := tm.Verify(token)
		assert.NoError(t, err)

		err = svc.UpdateCredentials(ctx, auth.VerifiedUserID(userID), CredentialsPatch{})
		assert.ErrorIs(t, err, pkgerrors.ErrNothingUpdated)
		assert.Equal(t, 0, userRepo.updateCalls)
	})

	t.Run("password change takes effect", func(t *testing.T) {
		svc, _, _, _, tm := newTestService(t)

		token, err := svc.Signup(ctx, SignupInput{Username: "alice", Password: "pw1234"})
		assert.NoError(t, err)
		userID, err := tm.Verify(token)
		assert.NoError(t, err)

		newPassword := "changed"
		err = svc.UpdateCredentials(ctx, auth.VerifiedUserID(userID), CredentialsPatch{Password: &newPassword})
		assert.NoError(t, err)

		_, _, err = svc.Signin(ctx, SigninInput{Username: "alice", Password: "pw1234"})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidCredentials)

		_, signinID, err := svc.Signin(ctx, SigninInput{Username: "alice", Password: newPassword})
		assert.NoError(t, err)
		assert.Equal(t, userID, signinID)
	})

	t.Run("names only", func(t *testing.T) {
		svc, userRepo, _, _, tm := newTestService(t)

		token, err := svc.Signup(ctx, SignupInput{Username: "alice", Password: "pw1234"})
		assert.NoError(t, err)
		userID, err := tm.Verify(token)
		assert.NoError(t, err)

		first, last := "Alice", "Anderson"
		err = svc.UpdateCredentials(ctx, auth.VerifiedUserID(userID), CredentialsPatch{FirstName: &first, LastName: &last})
		assert.NoError(t, err)

		user, err := userRepo.GetByID(ctx, userID)
		assert.NoError(t, err)
		assert.Equal(t, "Alice", user.FirstName)
		assert.Equal(t, "Anderson", user.LastName)
	})

	t.Run("unknown caller", func(t *testing.T) {
		svc, _, _, _, _ := newTestService(t)

		password := "pw1234"
		err := svc.UpdateCredentials(ctx, auth.VerifiedUserID("missing"), CredentialsPatch{Password: &password})
		assert.ErrorIs(t, err, pkgerrors.ErrNothingUpdated)
	})

	t.Run("empty password is invalid", func(t *testing.T) {
		svc, _, _, _, _ := newTestService(t)

		empty := ""
		err := svc.UpdateCredentials(ctx, auth.VerifiedUserID("whoever"), CredentialsPatch{Password: &empty})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})
}

func TestUserService_SearchUsers(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, svc *userService) {
		t.Helper()
		_, err := svc.Signup(ctx, SignupInput{Username: "alice", Password: "pw", FirstName: "Anna", LastName: "Smith"})
		assert.NoError(t, err)
		_, err = svc.Signup(ctx, SignupInput{Username: "bob", Password: "pw", FirstName: "Bob", LastName: "Jones"})
		assert.NoError(t, err)
	}

	t.Run("fragment matches case-insensitively", func(t *testing.T) {
		svc, _, _, _, _ := newTestService(t)
		seed(t, svc)

		users, err := svc.SearchUsers(ctx, "ann")
		assert.NoError(t, err)
		assert.Len(t, users, 1)
		assert.Equal(t, "alice", users[0].Username)
	})

	t.Run("empty fragment lists everyone", func(t *testing.T) {
		svc, _, _, _, _ := newTestService(t)
		seed(t, svc)

		users, err := svc.SearchUsers(ctx, "")
		assert.NoError(t, err)
		assert.Len(t, users, 2)
	})

	t.Run("listing is served from cache when warm", func(t *testing.T) {
		svc, userRepo, _, _, _ := newTestService(t)
		seed(t, svc)

		_, err := svc.SearchUsers(ctx, "")
		assert.NoError(t, err)
		calls := userRepo.searchCalls

		users, err := svc.SearchUsers(ctx, "")
		assert.NoError(t, err)
		assert.Len(t, users, 2)
		assert.Equal(t, calls, userRepo.searchCalls)
	})
}
