// Package state manages the SQLite database holding reminders, registered
// geofence regions and remembered permission grants.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods.
package state

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pressly/goose/v3"

	"github.com/njoerd114/pinreminder/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// goose keeps its dialect, FS and logger in package globals.
var migrateMu sync.Mutex

// Region is a registered geofence as stored in the database.
type Region struct {
	ID           string
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
	Transitions  int
	ExpiresAt    time.Time // zero means never
	Inside       bool
	RegisteredAt time.Time
}

// Store is the SQLite-backed state repository.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the state database:
// ~/.local/share/pinreminder/state.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "pinreminder", "state.db"), nil
}

// Open opens (or creates) the SQLite database at path, runs pending
// migrations, and configures WAL mode.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB, logger *slog.Logger) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(&slogGooseLogger{log: logger})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	return goose.Up(db, "migrations")
}

// slogGooseLogger routes goose output through slog at debug level.
type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Debug(fmt.Sprintf(format, v...), "component", "migrations")
}

// Fatalf logs without exiting; goose.Up still returns the error.
func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(fmt.Sprintf(format, v...), "component", "migrations")
}

// --- reminders ---------------------------------------------------------------

// SaveReminder inserts r, replacing any existing reminder with the same ID.
func (s *Store) SaveReminder(ctx context.Context, r *model.Reminder) error {
	const q = `
		INSERT INTO reminders (id, title, description, location, latitude, longitude, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    title       = excluded.title,
		    description = excluded.description,
		    location    = excluded.location,
		    latitude    = excluded.latitude,
		    longitude   = excluded.longitude`

	_, err := s.db.ExecContext(ctx, q,
		r.ID,
		r.Title,
		r.Description,
		r.Location,
		nullFloat(r.Latitude),
		nullFloat(r.Longitude),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("saving reminder %q: %w", r.ID, err)
	}
	return nil
}

// GetReminder returns the reminder with the given ID, or (nil, nil) if no
// such reminder exists.
func (s *Store) GetReminder(ctx context.Context, id string) (*model.Reminder, error) {
	const q = `
		SELECT id, title, description, location, latitude, longitude
		FROM reminders WHERE id = ?`
	return scanReminder(s.db.QueryRowContext(ctx, q, id))
}

// GetReminders returns all reminders in insertion order.
func (s *Store) GetReminders(ctx context.Context) ([]model.Reminder, error) {
	const q = `
		SELECT id, title, description, location, latitude, longitude
		FROM reminders ORDER BY rowid`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying reminders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	reminders := []model.Reminder{}
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, *r)
	}
	return reminders, rows.Err()
}

// DeleteAllReminders removes every reminder and returns how many were deleted.
func (s *Store) DeleteAllReminders(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders`)
	if err != nil {
		return 0, fmt.Errorf("deleting reminders: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- geofence regions --------------------------------------------------------

// SaveRegion inserts or replaces a geofence region.
func (s *Store) SaveRegion(ctx context.Context, r Region) error {
	const q = `
		INSERT INTO geofence_regions
		    (id, latitude, longitude, radius_meters, transitions, expires_at, inside, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    latitude      = excluded.latitude,
		    longitude     = excluded.longitude,
		    radius_meters = excluded.radius_meters,
		    transitions   = excluded.transitions,
		    expires_at    = excluded.expires_at,
		    inside        = excluded.inside,
		    registered_at = excluded.registered_at`

	_, err := s.db.ExecContext(ctx, q,
		r.ID,
		r.Latitude,
		r.Longitude,
		r.RadiusMeters,
		r.Transitions,
		formatTime(r.ExpiresAt),
		r.Inside,
		formatTime(r.RegisteredAt),
	)
	if err != nil {
		return fmt.Errorf("saving region %q: %w", r.ID, err)
	}
	return nil
}

// GetRegions returns all registered regions.
func (s *Store) GetRegions(ctx context.Context) ([]Region, error) {
	const q = `
		SELECT id, latitude, longitude, radius_meters, transitions, expires_at, inside, registered_at
		FROM geofence_regions ORDER BY rowid`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying regions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var regions []Region
	for rows.Next() {
		var r Region
		var expires, registered string
		if err := rows.Scan(&r.ID, &r.Latitude, &r.Longitude, &r.RadiusMeters,
			&r.Transitions, &expires, &r.Inside, &registered); err != nil {
			return nil, fmt.Errorf("scanning region row: %w", err)
		}
		r.ExpiresAt, _ = parseTime(expires)
		r.RegisteredAt, _ = parseTime(registered)
		regions = append(regions, r)
	}
	return regions, rows.Err()
}

// SetRegionInside records whether the last fix was inside the region.
func (s *Store) SetRegionInside(ctx context.Context, id string, inside bool) error {
	const q = `UPDATE geofence_regions SET inside = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, inside, id); err != nil {
		return fmt.Errorf("updating region %q: %w", id, err)
	}
	return nil
}

// DeleteRegion removes one region.
func (s *Store) DeleteRegion(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM geofence_regions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting region %q: %w", id, err)
	}
	return nil
}

// DeleteAllRegions removes every registered region.
func (s *Store) DeleteAllRegions(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM geofence_regions`); err != nil {
		return fmt.Errorf("deleting regions: %w", err)
	}
	return nil
}

// --- permission grants -------------------------------------------------------

// GetGrant returns the remembered status for a permission, or "" if the user
// was never asked.
func (s *Store) GetGrant(ctx context.Context, permission string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM permission_grants WHERE permission = ?`, permission).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading grant for %q: %w", permission, err)
	}
	return status, nil
}

// SetGrant remembers the user's answer for a permission.
func (s *Store) SetGrant(ctx context.Context, permission, status string) error {
	const q = `
		INSERT INTO permission_grants (permission, status, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(permission) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, q, permission, status, formatTime(time.Now())); err != nil {
		return fmt.Errorf("saving grant for %q: %w", permission, err)
	}
	return nil
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scanReminder can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanReminder(s scanner) (*model.Reminder, error) {
	var (
		r        model.Reminder
		lat, lon sql.NullFloat64
	)
	err := s.Scan(&r.ID, &r.Title, &r.Description, &r.Location, &lat, &lon)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning reminder row: %w", err)
	}
	if lat.Valid {
		r.Latitude = model.Float(lat.Float64)
	}
	if lon.Valid {
		r.Longitude = model.Float(lon.Float64)
	}
	return &r, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
