// Package store provides storage backends for the SMS booking service.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/danelas/sms/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// AddReceipt records an outbound message receipt.
func (s *PostgresStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES ($1, $2, $3)`, r.To, r.Status, r.Time)
	if err != nil {
		slog.Error("PostgresStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	slog.Debug("PostgresStore AddReceipt succeeded", "to", r.To, "status", r.Status)
	return nil
}

// GetReceipts returns all recorded receipts.
func (s *PostgresStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts`)
	if err != nil {
		slog.Error("PostgresStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.To, &r.Status, &r.Time); err != nil {
			slog.Error("PostgresStore GetReceipts scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetReceipts rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}

// AddResponse records an inbound message.
func (s *PostgresStore) AddResponse(r models.Response) error {
	_, err := s.db.Exec(`INSERT INTO responses (sender, body, time) VALUES ($1, $2, $3)`, r.From, r.Body, r.Time)
	if err != nil {
		slog.Error("PostgresStore AddResponse failed", "error", err, "from", r.From)
		return fmt.Errorf("failed to insert response from %s: %w", r.From, err)
	}
	slog.Debug("PostgresStore AddResponse succeeded", "from", r.From)
	return nil
}

// GetResponses returns all recorded inbound messages.
func (s *PostgresStore) GetResponses() ([]models.Response, error) {
	rows, err := s.db.Query(`SELECT sender, body, time FROM responses`)
	if err != nil {
		slog.Error("PostgresStore GetResponses query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	var responses []models.Response
	for rows.Next() {
		var r models.Response
		if err := rows.Scan(&r.From, &r.Body, &r.Time); err != nil {
			slog.Error("PostgresStore GetResponses scan failed", "error", err)
			return nil, err
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}

// SaveBooking inserts or updates a booking snapshot.
func (s *PostgresStore) SaveBooking(b models.Booking) error {
	contactedJSON, err := marshalContacted(b.Contacted)
	if err != nil {
		slog.Error("PostgresStore SaveBooking marshal failed", "error", err, "bookingID", b.ID)
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO bookings
			(id, client_phone, client_name, location, service_type, state, contacted, current_phone, confirmed_phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			contacted = EXCLUDED.contacted,
			current_phone = EXCLUDED.current_phone,
			confirmed_phone = EXCLUDED.confirmed_phone,
			updated_at = EXCLUDED.updated_at`,
		b.ID, b.ClientPhone, b.ClientName, b.Location, b.ServiceType, b.State,
		contactedJSON, b.CurrentPhone, b.ConfirmedPhone, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveBooking failed", "error", err, "bookingID", b.ID)
		return fmt.Errorf("failed to save booking %s: %w", b.ID, err)
	}
	slog.Debug("PostgresStore SaveBooking succeeded", "bookingID", b.ID, "state", b.State)
	return nil
}

// GetBooking retrieves a booking snapshot by ID, or nil if absent.
func (s *PostgresStore) GetBooking(id string) (*models.Booking, error) {
	row := s.db.QueryRow(`
		SELECT id, client_phone, client_name, location, service_type, state, contacted, current_phone, confirmed_phone, created_at, updated_at
		FROM bookings WHERE id = $1`, id)
	b, err := scanBookingRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetBooking not found", "bookingID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetBooking failed", "error", err, "bookingID", id)
		return nil, err
	}
	return b, nil
}

// ListBookings returns all booking snapshots ordered by creation time.
func (s *PostgresStore) ListBookings() ([]models.Booking, error) {
	rows, err := s.db.Query(`
		SELECT id, client_phone, client_name, location, service_type, state, contacted, current_phone, confirmed_phone, created_at, updated_at
		FROM bookings ORDER BY created_at`)
	if err != nil {
		slog.Error("PostgresStore ListBookings query failed", "error", err)
		return nil, err
	}
	defer rows.Close()
	return scanBookings(rows)
}

// DeleteBooking removes a booking snapshot.
func (s *PostgresStore) DeleteBooking(id string) error {
	_, err := s.db.Exec(`DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteBooking failed", "error", err, "bookingID", id)
		return err
	}
	return nil
}

// SaveProvider inserts or updates a provider, keeping directory order via
// the position column.
func (s *PostgresStore) SaveProvider(p models.Provider) error {
	_, err := s.db.Exec(`
		INSERT INTO providers (phone, name, locations, service_types, position)
		VALUES ($1, $2, $3, $4, (SELECT COALESCE(MAX(position), 0) + 1 FROM providers))
		ON CONFLICT (phone) DO UPDATE SET name = EXCLUDED.name, locations = EXCLUDED.locations, service_types = EXCLUDED.service_types`,
		p.Phone, p.Name, p.Locations, p.ServiceTypes)
	if err != nil {
		slog.Error("PostgresStore SaveProvider failed", "error", err, "phone", p.Phone)
		return fmt.Errorf("failed to save provider %s: %w", p.Phone, err)
	}
	return nil
}

// GetProviders returns all providers in directory order.
func (s *PostgresStore) GetProviders() ([]models.Provider, error) {
	rows, err := s.db.Query(`SELECT phone, name, locations, service_types FROM providers ORDER BY position`)
	if err != nil {
		slog.Error("PostgresStore GetProviders query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	var providers []models.Provider
	for rows.Next() {
		var p models.Provider
		if err := rows.Scan(&p.Phone, &p.Name, &p.Locations, &p.ServiceTypes); err != nil {
			slog.Error("PostgresStore GetProviders scan failed", "error", err)
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

// SaveContact inserts or updates a contact keyed by phone.
func (s *PostgresStore) SaveContact(c models.Contact) error {
	_, err := s.db.Exec(`
		INSERT INTO contacts (phone, id, name, email, source, last_message, sync_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (phone) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			source = EXCLUDED.source,
			last_message = EXCLUDED.last_message,
			sync_status = EXCLUDED.sync_status,
			updated_at = EXCLUDED.updated_at`,
		c.Phone, c.ID, c.Name, c.Email, c.Source, c.LastMessage, c.SyncStatus, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveContact failed", "error", err, "phone", c.Phone)
		return fmt.Errorf("failed to save contact %s: %w", c.Phone, err)
	}
	return nil
}

// GetContactByPhone retrieves a contact by phone, or nil if absent.
func (s *PostgresStore) GetContactByPhone(phone string) (*models.Contact, error) {
	row := s.db.QueryRow(`
		SELECT phone, id, name, email, source, last_message, sync_status, created_at, updated_at
		FROM contacts WHERE phone = $1`, phone)
	c, err := scanContactRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetContactByPhone failed", "error", err, "phone", phone)
		return nil, err
	}
	return c, nil
}

// ListContactsBySyncStatus returns contacts matching the given sync status.
func (s *PostgresStore) ListContactsBySyncStatus(status models.ContactSyncStatus) ([]models.Contact, error) {
	rows, err := s.db.Query(`
		SELECT phone, id, name, email, source, last_message, sync_status, created_at, updated_at
		FROM contacts WHERE sync_status = $1 ORDER BY updated_at`, status)
	if err != nil {
		slog.Error("PostgresStore ListContactsBySyncStatus query failed", "error", err)
		return nil, err
	}
	defer rows.Close()
	return scanContacts(rows)
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
