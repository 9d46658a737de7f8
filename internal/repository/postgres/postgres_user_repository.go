package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	stderrors "errors"

	"github.com/lib/pq"
	"github.com/velenik/payflow/internal/infrastructure/observability"
	"github.com/velenik/payflow/internal/models"
	"github.com/velenik/payflow/internal/repository"
	pkgerrors "github.com/velenik/payflow/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const uniqueViolation = "23505"

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func validateUser(user *models.User) error {
	if user == nil {
		return pkgerrors.ErrNilUser
	}
	if user.ID == "" {
		return fmt.Errorf("%w: user id is required", pkgerrors.ErrInvalidInput)
	}
	if user.Username == "" {
		return fmt.Errorf("%w: username is required", pkgerrors.ErrInvalidInput)
	}
	if len(user.Username) > 50 {
		return fmt.Errorf("%w: username too long", pkgerrors.ErrInvalidInput)
	}
	if user.PasswordHash == "" {
		return fmt.Errorf("%w: password_hash is required", pkgerrors.ErrInvalidInput)
	}
	return nil
}

func (r *PostgresUserRepository) Create(ctx context.Context, user *models.User) error {
	var err error
	tracer := otel.Tracer("user-repository")
	ctx, span := tracer.Start(ctx, "CreateUser")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreateUser", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreateUser").Observe(time.Since(start).Seconds())
	}()

	if err = validateUser(user); err != nil {
		return err
	}
	span.SetAttributes(attribute.String("username", user.Username))

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "CreateUser", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `
		INSERT INTO users (id, username, password_hash, first_name, last_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err = dbTx.QueryRowContext(
		ctx,
		query,
		user.ID,
		user.Username,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
	).Scan(&user.CreatedAt)
	if err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "method", "CreateUser", "error", rbErr)
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			slog.Warn("username already taken", "method", "CreateUser", "username", user.Username)
			err = pkgerrors.ErrUsernameExists
			return err
		}
		slog.Error("failed to create user", "method", "CreateUser", "username", user.Username, "error", err)
		return fmt.Errorf("failed to create user: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "CreateUser", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("user created", "method", "CreateUser", "user_id", user.ID, "username", user.Username)
	return nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var err error
	tracer := otel.Tracer("user-repository")
	ctx, span := tracer.Start(ctx, "GetUserByID")
	span.SetAttributes(attribute.String("user_id", id))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("GetUserByID", status).Inc()
		observability.RepositoryDuration.WithLabelValues("GetUserByID").Observe(time.Since(start).Seconds())
	}()

	query := `SELECT id, username, password_hash, first_name, last_name, created_at FROM users WHERE id = $1`
	var user models.User
	err = r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.CreatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrUserNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get user by id", "method", "GetUserByID", "user_id", id, "error", err)
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

func (r *PostgresUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var err error
	tracer := otel.Tracer("user-repository")
	ctx, span := tracer.Start(ctx, "GetUserByUsername")
	span.SetAttributes(attribute.String("username", username))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("GetUserByUsername", status).Inc()
		observability.RepositoryDuration.WithLabelValues("GetUserByUsername").Observe(time.Since(start).Seconds())
	}()

	if username == "" {
		err = fmt.Errorf("%w: username cannot be empty", pkgerrors.ErrInvalidInput)
		return nil, err
	}

	query := `SELECT id, username, password_hash, first_name, last_name, created_at FROM users WHERE username = $1`
	var user models.User
	err = r.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.CreatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrUserNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get user by username", "method", "GetUserByUsername", "username", username, "error", err)
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return &user, nil
}

func (r *PostgresUserRepository) UpdateFields(ctx context.Context, id string, patch repository.UserPatch) (int64, error) {
	var err error
	tracer := otel.Tracer("user-repository")
	ctx, span := tracer.Start(ctx, "UpdateUserFields")
	span.SetAttributes(attribute.String("user_id", id))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("UpdateUserFields", status).Inc()
		observability.RepositoryDuration.WithLabelValues("UpdateUserFields").Observe(time.Since(start).Seconds())
	}()

	if patch.IsEmpty() {
		return 0, nil
	}

	var set []string
	var args []interface{}
	if patch.PasswordHash != nil {
		args = append(args, *patch.PasswordHash)
		set = append(set, fmt.Sprintf("password_hash = $%d", len(args)))
	}
	if patch.FirstName != nil {
		args = append(args, *patch.FirstName)
		set = append(set, fmt.Sprintf("first_name = $%d", len(args)))
	}
	if patch.LastName != nil {
		args = append(args, *patch.LastName)
		set = append(set, fmt.Sprintf("last_name = $%d", len(args)))
	}
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d`, strings.Join(set, ", "), len(args))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Error("failed to update user fields", "method", "UpdateUserFields", "user_id", id, "error", err)
		return 0, fmt.Errorf("failed to update user fields: %w", err)
	}

	updated, err := res.RowsAffected()
	if err != nil {
		slog.Error("failed to read affected rows", "method", "UpdateUserFields", "user_id", id, "error", err)
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	slog.Info("user fields updated", "method", "UpdateUserFields", "user_id", id, "updated", updated)
	return updated, nil
}

func (r *PostgresUserRepository) SearchByName(ctx context.Context, fragment string) ([]models.User, error) {
	var err error
	tracer := otel.Tracer("user-repository")
	ctx, span := tracer.Start(ctx, "SearchUsersByName")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("SearchUsersByName", status).Inc()
		observability.RepositoryDuration.WithLabelValues("SearchUsersByName").Observe(time.Since(start).Seconds())
	}()

	// password_hash is deliberately not selected here.
	query := `
		SELECT id, username, first_name, last_name
		FROM users
		WHERE first_name ILIKE '%' || $1 || '%' OR last_name ILIKE '%' || $1 || '%'
		ORDER BY username
	`
	rows, err := r.db.QueryContext(ctx, query, fragment)
	if err != nil {
		slog.Error("failed to search users", "method", "SearchUsersByName", "error", err)
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err = rows.Scan(&user.ID, &user.Username, &user.FirstName, &user.LastName); err != nil {
			slog.Error("failed to scan user row", "method", "SearchUsersByName", "error", err)
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, user)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user rows: %w", err)
	}

	return users, nil
}
