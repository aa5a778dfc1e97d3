package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// queryer is the subset shared by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore implements Store on top of database/sql and lib/pq.
type PostgresStore struct {
	db  *sql.DB
	log *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a Store backed by db.
func NewPostgresStore(db *sql.DB, log *slog.Logger) *PostgresStore {
	if log == nil {
		log = slog.Default()
	}

	return &PostgresStore{db: db, log: log}
}

func (s *PostgresStore) Users() UserRepository {
	return &userRepository{q: s.db, log: s.log}
}

func (s *PostgresStore) PaymentLinks() PaymentLinkRepository {
	return &paymentLinkRepository{q: s.db, log: s.log}
}

// HealthCheck pings the database.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithinTx runs fn inside a READ COMMITTED transaction. The deferred rollback also
// covers panics raised by fn.
func (s *PostgresStore) WithinTx(ctx context.Context, fn TxFunc) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Error("rollback error", slog.Any("error", rbErr))
		}
	}()

	if err := fn(ctx, &pgTx{tx: tx, log: s.log}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true

	return nil
}

type pgTx struct {
	tx  *sql.Tx
	log *slog.Logger
}

func (t *pgTx) Users() UserRepository {
	return &userRepository{q: t.tx, log: t.log}
}

func (t *pgTx) PaymentLinks() PaymentLinkRepository {
	return &paymentLinkRepository{q: t.tx, log: t.log}
}

func classifyPQError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code {
	case pqUniqueViolation:
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, pqErr.Constraint)
	case pqForeignKeyViolation:
		return fmt.Errorf("%w: %s", ErrUnknownUser, pqErr.Constraint)
	default:
		return err
	}
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
