package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// NewSQLite opens a SQLite database and runs migrations. The DSN ":memory:"
// opens a private in-memory database shared by all pooled connections.
func NewSQLite(ctx context.Context, dsn string) (*SQLStore, error) {
	if dsn == ":memory:" {
		dsn = "file:" + uuid.New().String() + "?mode=memory&cache=shared"
	}

	// Pragmas go in the DSN so that every pooled connection gets them.
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLStore{db: db, dialect: goose.DialectSQLite3}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}
