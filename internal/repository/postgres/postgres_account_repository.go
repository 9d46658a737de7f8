package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/lib/pq"
	"github.com/velenik/payflow/internal/infrastructure/observability"
	"github.com/velenik/payflow/internal/models"
	pkgerrors "github.com/velenik/payflow/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresAccountRepository struct {
	db *sql.DB
}

func NewPostgresAccountRepository(db *sql.DB) *PostgresAccountRepository {
	return &PostgresAccountRepository{db: db}
}

func (r *PostgresAccountRepository) Create(ctx context.Context, ownerID string, initialBalance int64) (*models.Account, error) {
	var err error
	tracer := otel.Tracer("account-repository")
	ctx, span := tracer.Start(ctx, "CreateAccount")
	span.SetAttributes(attribute.String("owner_id", ownerID))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreateAccount", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreateAccount").Observe(time.Since(start).Seconds())
	}()

	if ownerID == "" {
		err = fmt.Errorf("%w: owner id is required", pkgerrors.ErrInvalidInput)
		return nil, err
	}
	if initialBalance < 0 {
		err = fmt.Errorf("%w: balance cannot be negative", pkgerrors.ErrInvalidInput)
		return nil, err
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "CreateAccount", "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	account := &models.Account{OwnerID: ownerID, Balance: initialBalance}
	query := `
		INSERT INTO accounts (user_id, balance)
		VALUES ($1, $2)
		RETURNING created_at
	`
	err = dbTx.QueryRowContext(ctx, query, ownerID, initialBalance).Scan(&account.CreatedAt)
	if err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "method", "CreateAccount", "error", rbErr)
			return nil, fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			slog.Warn("account already exists", "method", "CreateAccount", "owner_id", ownerID)
			err = pkgerrors.ErrAccountExists
			return nil, err
		}
		slog.Error("failed to create account", "method", "CreateAccount", "owner_id", ownerID, "error", err)
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "CreateAccount", "error", err)
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("account created", "method", "CreateAccount", "owner_id", ownerID, "balance", initialBalance)
	return account, nil
}

func (r *PostgresAccountRepository) GetByOwner(ctx context.Context, ownerID string) (*models.Account, error) {
	var err error
	tracer := otel.Tracer("account-repository")
	ctx, span := tracer.Start(ctx, "GetAccountByOwner")
	span.SetAttributes(attribute.String("owner_id", ownerID))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("GetAccountByOwner", status).Inc()
		observability.RepositoryDuration.WithLabelValues("GetAccountByOwner").Observe(time.Since(start).Seconds())
	}()

	query := `SELECT user_id, balance, created_at FROM accounts WHERE user_id = $1`
	var account models.Account
	err = r.db.QueryRowContext(ctx, query, ownerID).Scan(&account.OwnerID, &account.Balance, &account.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrAccountNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get account", "method", "GetAccountByOwner", "owner_id", ownerID, "error", err)
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

func (r *PostgresAccountRepository) Delete(ctx context.Context, ownerID string) error {
	var err error
	tracer := otel.Tracer("account-repository")
	ctx, span := tracer.Start(ctx, "DeleteAccount")
	span.SetAttributes(attribute.String("owner_id", ownerID))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("DeleteAccount", status).Inc()
		observability.RepositoryDuration.WithLabelValues("DeleteAccount").Observe(time.Since(start).Seconds())
	}()

	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE user_id = $1`, ownerID)
	if err != nil {
		slog.Error("failed to delete account", "method", "DeleteAccount", "owner_id", ownerID, "error", err)
		return fmt.Errorf("failed to delete account: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if deleted == 0 {
		err = pkgerrors.ErrAccountNotFound
		return err
	}

	slog.Info("account deleted", "method", "DeleteAccount", "owner_id", ownerID)
	return nil
}
