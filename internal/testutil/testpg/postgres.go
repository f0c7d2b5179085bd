// Package testpg runs a disposable Postgres for the asset metadata tests and
// inspects it over pgx, independently of the gorm layer under test.
package testpg

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Server is a running Postgres container with an empty "risugit" database.
type Server struct {
	DSN string
	tb  testing.TB
}

// Start launches the container and blocks until it accepts connections. It
// is terminated when tb finishes.
func Start(tb testing.TB) *Server {
	tb.Helper()
	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("risugit"),
		postgres.WithUsername("risugit"),
		postgres.WithPassword("risugit"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		tb.Fatalf("testpg: start container: %v", err)
	}
	tb.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			tb.Errorf("testpg: terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		tb.Fatalf("testpg: connection string: %v", err)
	}
	s := &Server{DSN: dsn, tb: tb}
	readyCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	if err := s.ping(readyCtx); err != nil {
		tb.Fatalf("testpg: not ready: %v", err)
	}
	return s
}

// ping retries a connect and ping until one succeeds or ctx ends.
func (s *Server) ping(ctx context.Context) error {
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	for {
		conn, err := pgx.Connect(ctx, s.DSN)
		if err == nil {
			err = conn.Ping(ctx)
			_ = conn.Close(context.Background())
		}
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return err
		case <-tick.C:
		}
	}
}

func (s *Server) conn() (*pgx.Conn, func()) {
	s.tb.Helper()
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, s.DSN)
	if err != nil {
		s.tb.Fatalf("testpg: connect: %v", err)
	}
	return conn, func() { _ = conn.Close(ctx) }
}

// Columns lists the columns of table in declaration order.
func (s *Server) Columns(table string) []string {
	s.tb.Helper()
	conn, done := s.conn()
	defer done()
	rows, err := conn.Query(context.Background(),
		`SELECT column_name FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position`, table)
	if err != nil {
		s.tb.Fatalf("testpg: columns of %s: %v", table, err)
	}
	cols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		s.tb.Fatalf("testpg: columns of %s: %v", table, err)
	}
	return cols
}

// SeedAsset writes an assets row directly, as a server that never went
// through the gorm layer would have.
func (s *Server) SeedAsset(filename, fileType string, size int64, uploaded, accessed time.Time) {
	s.tb.Helper()
	conn, done := s.conn()
	defer done()
	_, err := conn.Exec(context.Background(),
		`INSERT INTO assets (filename, file_type, file_size, upload_date, last_accessed_date) VALUES ($1, $2, $3, $4, $5)`,
		filename, fileType, size, uploaded, accessed)
	if err != nil {
		s.tb.Fatalf("testpg: seed %s: %v", filename, err)
	}
}

// LastAccessed reads the last access time of filename.
func (s *Server) LastAccessed(filename string) time.Time {
	s.tb.Helper()
	conn, done := s.conn()
	defer done()
	var at time.Time
	err := conn.QueryRow(context.Background(),
		`SELECT last_accessed_date FROM assets WHERE filename = $1`, filename).Scan(&at)
	if err != nil {
		s.tb.Fatalf("testpg: last access of %s: %v", filename, err)
	}
	return at
}
