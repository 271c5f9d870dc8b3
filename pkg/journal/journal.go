// Package journal records accepted CloudEvents in Postgres.
package journal

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/primaryrutabaga/ruby-gateway/pkg/schemas"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const insertEvent = `
INSERT INTO cloud_events (
    request_id, event_id, source, type, spec_version,
    data_content_type, data_schema, subject, event_time, data
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (source, event_id) DO NOTHING`

// Migrate applies the embedded schema migrations.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(databaseURL))
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// migrateURL rewrites a postgres URL to the scheme of the pgx/v5 migrate driver.
func migrateURL(databaseURL string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}

// beginner abstracts the pool for testing.
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store appends events to the cloud_events table.
type Store struct {
	db beginner
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

// Append writes every event of one request in a single transaction. Either
// all rows are stored or none are. An event already journaled under the same
// source and id is skipped, so client retries do not duplicate rows.
func (s *Store) Append(ctx context.Context, requestID string, events []schemas.CloudEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, ce := range events {
		var data []byte
		if d, ok := ce.Data().Get(); ok {
			data = []byte(d)
		}
		_, err := tx.Exec(ctx, insertEvent,
			requestID,
			ce.ID(),
			ce.Source(),
			ce.Type(),
			ce.SpecVersion(),
			nullable(ce.DataContentType()),
			nullable(ce.DataSchema()),
			nullable(ce.Subject()),
			nullable(ce.Time()),
			data,
		)
		if err != nil {
			return fmt.Errorf("insert %s: %w", ce.ID(), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func nullable[T any](o schemas.Optional[T]) *T {
	v, ok := o.Get()
	if !ok {
		return nil
	}
	return &v
}
