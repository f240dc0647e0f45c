// Package store provides storage backends for the SMS booking service.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/danelas/sms/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// AddReceipt records an outbound message receipt.
func (s *SQLiteStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES (?, ?, ?)`, r.To, r.Status, r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	slog.Debug("SQLiteStore AddReceipt succeeded", "to", r.To, "status", r.Status)
	return nil
}

// GetReceipts returns all recorded receipts.
func (s *SQLiteStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts`)
	if err != nil {
		slog.Error("SQLiteStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.To, &r.Status, &r.Time); err != nil {
			slog.Error("SQLiteStore GetReceipts scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetReceipts rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}

// AddResponse records an inbound message.
func (s *SQLiteStore) AddResponse(r models.Response) error {
	_, err := s.db.Exec(`INSERT INTO responses (sender, body, time) VALUES (?, ?, ?)`, r.From, r.Body, r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddResponse failed", "error", err, "from", r.From)
		return fmt.Errorf("failed to insert response from %s: %w", r.From, err)
	}
	slog.Debug("SQLiteStore AddResponse succeeded", "from", r.From)
	return nil
}

// GetResponses returns all recorded inbound messages.
func (s *SQLiteStore) GetResponses() ([]models.Response, error) {
	rows, err := s.db.Query(`SELECT sender, body, time FROM responses`)
	if err != nil {
		slog.Error("SQLiteStore GetResponses query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	var responses []models.Response
	for rows.Next() {
		var r models.Response
		if err := rows.Scan(&r.From, &r.Body, &r.Time); err != nil {
			slog.Error("SQLiteStore GetResponses scan failed", "error", err)
			return nil, err
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}

// SaveBooking inserts or updates a booking snapshot. The contacted provider
// list is stored as a JSON array.
func (s *SQLiteStore) SaveBooking(b models.Booking) error {
	contactedJSON, err := marshalContacted(b.Contacted)
	if err != nil {
		slog.Error("SQLiteStore SaveBooking marshal failed", "error", err, "bookingID", b.ID)
		return err
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO bookings
			(id, client_phone, client_name, location, service_type, state, contacted, current_phone, confirmed_phone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ClientPhone, b.ClientName, b.Location, b.ServiceType, b.State,
		contactedJSON, b.CurrentPhone, b.ConfirmedPhone, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveBooking failed", "error", err, "bookingID", b.ID)
		return fmt.Errorf("failed to save booking %s: %w", b.ID, err)
	}
	slog.Debug("SQLiteStore SaveBooking succeeded", "bookingID", b.ID, "state", b.State)
	return nil
}

// GetBooking retrieves a booking snapshot by ID, or nil if absent.
func (s *SQLiteStore) GetBooking(id string) (*models.Booking, error) {
	row := s.db.QueryRow(`
		SELECT id, client_phone, client_name, location, service_type, state, contacted, current_phone, confirmed_phone, created_at, updated_at
		FROM bookings WHERE id = ?`, id)
	b, err := scanBookingRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetBooking not found", "bookingID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetBooking failed", "error", err, "bookingID", id)
		return nil, err
	}
	return b, nil
}

// ListBookings returns all booking snapshots ordered by creation time.
func (s *SQLiteStore) ListBookings() ([]models.Booking, error) {
	rows, err := s.db.Query(`
		SELECT id, client_phone, client_name, location, service_type, state, contacted, current_phone, confirmed_phone, created_at, updated_at
		FROM bookings ORDER BY created_at`)
	if err != nil {
		slog.Error("SQLiteStore ListBookings query failed", "error", err)
		return nil, err
	}
	defer rows.Close()
	return scanBookings(rows)
}

// DeleteBooking removes a booking snapshot.
func (s *SQLiteStore) DeleteBooking(id string) error {
	_, err := s.db.Exec(`DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteBooking failed", "error", err, "bookingID", id)
		return err
	}
	return nil
}

// SaveProvider inserts or updates a provider, keeping directory order via
// the position column.
func (s *SQLiteStore) SaveProvider(p models.Provider) error {
	_, err := s.db.Exec(`
		INSERT INTO providers (phone, name, locations, service_types, position)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM providers))
		ON CONFLICT(phone) DO UPDATE SET name = excluded.name, locations = excluded.locations, service_types = excluded.service_types`,
		p.Phone, p.Name, p.Locations, p.ServiceTypes)
	if err != nil {
		slog.Error("SQLiteStore SaveProvider failed", "error", err, "phone", p.Phone)
		return fmt.Errorf("failed to save provider %s: %w", p.Phone, err)
	}
	return nil
}

// GetProviders returns all providers in directory order.
func (s *SQLiteStore) GetProviders() ([]models.Provider, error) {
	rows, err := s.db.Query(`SELECT phone, name, locations, service_types FROM providers ORDER BY position`)
	if err != nil {
		slog.Error("SQLiteStore GetProviders query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	var providers []models.Provider
	for rows.Next() {
		var p models.Provider
		if err := rows.Scan(&p.Phone, &p.Name, &p.Locations, &p.ServiceTypes); err != nil {
			slog.Error("SQLiteStore GetProviders scan failed", "error", err)
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

// SaveContact inserts or updates a contact keyed by phone.
func (s *SQLiteStore) SaveContact(c models.Contact) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO contacts (phone, id, name, email, source, last_message, sync_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Phone, c.ID, c.Name, c.Email, c.Source, c.LastMessage, c.SyncStatus, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveContact failed", "error", err, "phone", c.Phone)
		return fmt.Errorf("failed to save contact %s: %w", c.Phone, err)
	}
	return nil
}

// GetContactByPhone retrieves a contact by phone, or nil if absent.
func (s *SQLiteStore) GetContactByPhone(phone string) (*models.Contact, error) {
	row := s.db.QueryRow(`
		SELECT phone, id, name, email, source, last_message, sync_status, created_at, updated_at
		FROM contacts WHERE phone = ?`, phone)
	c, err := scanContactRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetContactByPhone failed", "error", err, "phone", phone)
		return nil, err
	}
	return c, nil
}

// ListContactsBySyncStatus returns contacts matching the given sync status.
func (s *SQLiteStore) ListContactsBySyncStatus(status models.ContactSyncStatus) ([]models.Contact, error) {
	rows, err := s.db.Query(`
		SELECT phone, id, name, email, source, last_message, sync_status, created_at, updated_at
		FROM contacts WHERE sync_status = ? ORDER BY updated_at`, status)
	if err != nil {
		slog.Error("SQLiteStore ListContactsBySyncStatus query failed", "error", err)
		return nil, err
	}
	defer rows.Close()
	return scanContacts(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}

// marshalContacted serializes the contacted provider list for storage.
func marshalContacted(contacted []string) (string, error) {
	if len(contacted) == 0 {
		return "", nil
	}
	data, err := json.Marshal(contacted)
	if err != nil {
		return "", fmt.Errorf("failed to marshal contacted list: %w", err)
	}
	return string(data), nil
}
