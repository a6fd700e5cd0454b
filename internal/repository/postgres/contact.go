package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/core/port"
	"github.com/arklim/portal-realtime/internal/repository"
)

const (
	contactSubmissionsTable = "portal.contact_submissions"
	uniqueViolationCode     = "23505"
)

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ContactRepository implements port.ContactRepository backed by PostgreSQL.
type ContactRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewContactRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewContactRepository(exec pgExecutor) *ContactRepository {
	return &ContactRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *ContactRepository) WithTx(tx pgx.Tx) *ContactRepository {
	if tx == nil {
		return r
	}
	return &ContactRepository{exec: tx, builder: r.builder}
}

// Create persists a contact submission.
func (r *ContactRepository) Create(ctx context.Context, submission domain.ContactSubmission) error {
	sqlStmt, args, err := r.builder.Insert(contactSubmissionsTable).
		Columns(
			"id",
			"name",
			"email",
			"company",
			"topic",
			"message",
			"client_ip",
			"user_agent",
			"submitted_at",
		).
		Values(
			submission.ID,
			submission.Name,
			submission.Email,
			submission.Company,
			submission.Topic,
			submission.Message,
			nullableString(submission.ClientIP),
			submission.UserAgent,
			submission.SubmittedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert contact submission: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sqlStmt, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert contact submission: %w", err)
	}

	return nil
}

// Get loads a submission by id.
func (r *ContactRepository) Get(ctx context.Context, id string) (*domain.ContactSubmission, error) {
	sqlStmt, args, err := r.builder.Select(
		"id",
		"name",
		"email",
		"company",
		"topic",
		"message",
		"client_ip",
		"user_agent",
		"submitted_at",
	).
		From(contactSubmissionsTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select contact submission: %w", err)
	}

	var (
		submission domain.ContactSubmission
		clientIP   *string
	)
	err = r.exec.QueryRow(ctx, sqlStmt, args...).Scan(
		&submission.ID,
		&submission.Name,
		&submission.Email,
		&submission.Company,
		&submission.Topic,
		&submission.Message,
		&clientIP,
		&submission.UserAgent,
		&submission.SubmittedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select contact submission: %w", err)
	}
	if clientIP != nil {
		submission.ClientIP = *clientIP
	}

	return &submission, nil
}

func nullableString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

var _ port.ContactRepository = (*ContactRepository)(nil)
