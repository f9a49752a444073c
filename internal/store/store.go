package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/andresmejia3/gatekeeper/internal/identity"
	"github.com/andresmejia3/gatekeeper/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Backend is an identity store that holds resources until closed.
type Backend interface {
	identity.Store
	Close(ctx context.Context) error
}

// Open picks a backend from the DSN: PostgreSQL URLs use the database,
// anything else is treated as a file path.
func Open(ctx context.Context, dsn string) (Backend, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return New(ctx, dsn)
	}
	return NewFile(dsn), nil
}

// Postgres manages the PostgreSQL connection and pgvector operations.
type Postgres struct {
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Postgres, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	// The vector type only exists once the extension is created.
	if err := pgxvec.RegisterTypes(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to register vector type: %w", err)
	}

	return &Postgres{conn: conn}, nil
}

// initSchema creates the identities table and vector extension if they don't exist.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS identities (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS identities_name_idx ON identities (name);
	`, types.DescriptorSize)
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Postgres) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// Load returns every identity in insertion order.
func (s *Postgres) Load(ctx context.Context) ([]identity.Identity, error) {
	rows, err := s.conn.Query(ctx, "SELECT name, embedding FROM identities ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []identity.Identity
	for rows.Next() {
		var name string
		var vec pgvector.Vector
		if err := rows.Scan(&name, &vec); err != nil {
			return nil, err
		}
		desc, err := toDescriptor(vec.Slice())
		if err != nil {
			return nil, fmt.Errorf("identity %q: %w", name, err)
		}
		out = append(out, identity.Identity{Name: name, Descriptor: desc})
	}
	return out, rows.Err()
}

// Save replaces the stored set in a single transaction, keeping order.
func (s *Postgres) Save(ctx context.Context, ids []identity.Identity) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// TRUNCATE restarts the sequence so ids stay in list order.
	if _, err := tx.Exec(ctx, "TRUNCATE identities RESTART IDENTITY"); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, id := range ids {
		batch.Queue("INSERT INTO identities (name, embedding) VALUES ($1, $2)", id.Name, pgvector.NewVector(id.Descriptor[:]))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Reset drops the identities table to clear the database state.
// The schema is recreated on the next connection.
func (s *Postgres) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, "DROP TABLE IF EXISTS identities CASCADE")
	return err
}

func toDescriptor(v []float32) (types.Descriptor, error) {
	var d types.Descriptor
	if len(v) != types.DescriptorSize {
		return d, fmt.Errorf("descriptor has %d dimensions, expected %d", len(v), types.DescriptorSize)
	}
	copy(d[:], v)
	return d, nil
}
