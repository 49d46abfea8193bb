package server

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/Co-Epi/coepi-core/protocol"
)

// ReportStore persists published reports keyed by arrival interval.
type ReportStore interface {
	// SaveReport stores a report under the given interval. Re-posting the
	// same report is a no-op.
	SaveReport(ctx context.Context, interval protocol.Interval, reportID string, signed *protocol.SignedReport) error

	// ReportsForInterval returns every report stored under the interval.
	ReportsForInterval(ctx context.Context, interval protocol.Interval) ([]*protocol.SignedReport, error)

	// Close releases the store's resources.
	Close() error
}

// PostgresStore implements ReportStore with PostgreSQL persistence.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore creates a new PostgreSQL-backed report store.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		report_id VARCHAR(64) PRIMARY KEY,
		interval_number BIGINT NOT NULL,
		interval_length BIGINT NOT NULL,
		payload BYTEA NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_reports_interval ON reports(interval_number, interval_length);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveReport persists a report blob under its arrival interval.
func (s *PostgresStore) SaveReport(ctx context.Context, interval protocol.Interval, reportID string, signed *protocol.SignedReport) error {
	payload, err := protocol.SerializeMessage(signed)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	query := `
	INSERT INTO reports (report_id, interval_number, interval_length, payload)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (report_id) DO NOTHING
	`

	_, err = s.db.ExecContext(ctx, query, reportID, int64(interval.Number), int64(interval.Length), payload)
	return err
}

// ReportsForInterval loads every report posted in the interval.
func (s *PostgresStore) ReportsForInterval(ctx context.Context, interval protocol.Interval) ([]*protocol.SignedReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM reports
		WHERE interval_number = $1 AND interval_length = $2
		ORDER BY created_at
	`, int64(interval.Number), int64(interval.Length))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*protocol.SignedReport
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		signed, err := protocol.UnmarshalMessage[protocol.SignedReport](payload)
		if err != nil {
			return nil, fmt.Errorf("decoding report: %w", err)
		}
		reports = append(reports, signed)
	}
	return reports, rows.Err()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// intervalKey identifies one storage bucket.
type intervalKey struct {
	number uint32
	length uint32
}

// InMemoryStore implements ReportStore for testing without a database.
type InMemoryStore struct {
	mu      sync.Mutex
	seen    map[string]bool
	buckets map[intervalKey][]*protocol.SignedReport
}

// NewInMemoryStore creates an in-memory report store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		seen:    make(map[string]bool),
		buckets: make(map[intervalKey][]*protocol.SignedReport),
	}
}

// SaveReport stores a report in memory.
func (s *InMemoryStore) SaveReport(_ context.Context, interval protocol.Interval, reportID string, signed *protocol.SignedReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seen[reportID] {
		return nil
	}
	s.seen[reportID] = true
	key := intervalKey{number: interval.Number, length: interval.Length}
	s.buckets[key] = append(s.buckets[key], signed)
	return nil
}

// ReportsForInterval returns the reports stored under the interval.
func (s *InMemoryStore) ReportsForInterval(_ context.Context, interval protocol.Interval) ([]*protocol.SignedReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := intervalKey{number: interval.Number, length: interval.Length}
	return append([]*protocol.SignedReport(nil), s.buckets[key]...), nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
