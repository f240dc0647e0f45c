// Package store provides storage backends for the SMS booking service.
//
// It includes an in-memory store plus SQLite and PostgreSQL backends
// persisting bookings, providers, message receipts, inbound responses, and
// CRM contacts.
package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danelas/sms/internal/models"
)

// Store abstracts persistence for the booking service.
type Store interface {
	AddReceipt(r models.Receipt) error
	GetReceipts() ([]models.Receipt, error)
	AddResponse(r models.Response) error
	GetResponses() ([]models.Response, error)

	SaveBooking(b models.Booking) error
	GetBooking(id string) (*models.Booking, error)
	ListBookings() ([]models.Booking, error)
	DeleteBooking(id string) error

	SaveProvider(p models.Provider) error
	GetProviders() ([]models.Provider, error)

	SaveContact(c models.Contact) error
	GetContactByPhone(phone string) (*models.Contact, error)
	ListContactsBySyncStatus(status models.ContactSyncStatus) ([]models.Contact, error)

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN configures a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite".
// PostgreSQL DSNs use URL schemes or key=value connection strings;
// anything else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a mutex-guarded in-memory Store, used when no database
// DSN is configured and throughout the test suite.
type InMemoryStore struct {
	mu        sync.RWMutex
	receipts  []models.Receipt
	responses []models.Response
	bookings  map[string]models.Booking
	providers []models.Provider
	contacts  map[string]models.Contact // keyed by phone
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		bookings: make(map[string]models.Booking),
		contacts: make(map[string]models.Contact),
	}
}

// AddReceipt records an outbound message receipt.
func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

// GetReceipts returns all recorded receipts.
func (s *InMemoryStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out, nil
}

// AddResponse records an inbound message.
func (s *InMemoryStore) AddResponse(r models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
	return nil
}

// GetResponses returns all recorded inbound messages.
func (s *InMemoryStore) GetResponses() ([]models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Response, len(s.responses))
	copy(out, s.responses)
	return out, nil
}

// SaveBooking inserts or updates a booking snapshot.
func (s *InMemoryStore) SaveBooking(b models.Booking) error {
	if b.ID == "" {
		return fmt.Errorf("booking ID cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b
	return nil
}

// GetBooking returns the booking with the given ID, or nil if absent.
func (s *InMemoryStore) GetBooking(id string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

// ListBookings returns all bookings ordered by creation time.
func (s *InMemoryStore) ListBookings() ([]models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteBooking removes a booking snapshot.
func (s *InMemoryStore) DeleteBooking(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bookings, id)
	return nil
}

// SaveProvider appends a provider, replacing any existing entry with the
// same phone while preserving directory order.
func (s *InMemoryStore) SaveProvider(p models.Provider) error {
	if p.Phone == "" {
		return fmt.Errorf("provider phone cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.providers {
		if existing.Phone == p.Phone {
			s.providers[i] = p
			return nil
		}
	}
	s.providers = append(s.providers, p)
	return nil
}

// GetProviders returns all providers in registration order.
func (s *InMemoryStore) GetProviders() ([]models.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Provider, len(s.providers))
	copy(out, s.providers)
	return out, nil
}

// SaveContact inserts or updates a contact keyed by phone.
func (s *InMemoryStore) SaveContact(c models.Contact) error {
	if c.Phone == "" {
		return fmt.Errorf("contact phone cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.Phone] = c
	return nil
}

// GetContactByPhone returns the contact with the given phone, or nil if absent.
func (s *InMemoryStore) GetContactByPhone(phone string) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[phone]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// ListContactsBySyncStatus returns contacts matching the given sync status.
func (s *InMemoryStore) ListContactsBySyncStatus(status models.ContactSyncStatus) ([]models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Contact
	for _, c := range s.contacts {
		if c.SyncStatus == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
