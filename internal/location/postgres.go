package location

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kjstillabower/cab-fare-service/internal/models"
)

const (
	resolveQuery = `SELECT latitude, longitude FROM locations WHERE lower(name) = lower($1)`
	namesQuery   = `SELECT name FROM locations ORDER BY name`
)

// PostgresStore resolves names against a locations(name, latitude, longitude) table.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens a pool through the pgx stdlib driver and verifies it with a ping.
func OpenPostgres(ctx context.Context, dsn string, maxOpenConns int) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Resolve implements Lookup. Rows with out-of-range coordinates are reported
// as errors rather than returned.
func (s *PostgresStore) Resolve(ctx context.Context, name string) (models.GeoPoint, error) {
	name = strings.Join(strings.Fields(name), " ")
	var p models.GeoPoint
	err := s.db.QueryRowContext(ctx, resolveQuery, name).Scan(&p.Lat, &p.Lon)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GeoPoint{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return models.GeoPoint{}, fmt.Errorf("query location %q: %w", name, err)
	}
	if err := p.Validate(); err != nil {
		return models.GeoPoint{}, fmt.Errorf("location %q: %w", name, err)
	}
	return p, nil
}

// Names implements Lookup.
func (s *PostgresStore) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, namesQuery)
	if err != nil {
		return nil, fmt.Errorf("query location names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan location name: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate location names: %w", err)
	}
	return names, nil
}

// Ping checks database reachability. Used for health checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the pool. Call during shutdown.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
