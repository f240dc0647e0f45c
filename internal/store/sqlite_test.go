package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/danelas/sms/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "sms-test.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(); err == nil {
		t.Error("expected error when DSN is not set")
	}
}

func TestSQLiteStoreBookingRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	b := models.Booking{
		ID:          "bk_abc123",
		ClientPhone: "15550001111",
		ClientName:  "Jane",
		Location:    "Downtown",
		ServiceType: "Mobile",
		State:       models.BookingStateAwaitingResponse,
		Contacted:   []string{"15550002222", "15550003333"},
		CurrentPhone: "15550003333",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.SaveBooking(b); err != nil {
		t.Fatalf("SaveBooking failed: %v", err)
	}

	got, err := s.GetBooking("bk_abc123")
	if err != nil {
		t.Fatalf("GetBooking failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetBooking returned nil")
	}
	if got.State != models.BookingStateAwaitingResponse {
		t.Errorf("State = %s, want awaiting_response", got.State)
	}
	if len(got.Contacted) != 2 || got.Contacted[1] != "15550003333" {
		t.Errorf("Contacted = %v", got.Contacted)
	}
	if got.ClientName != "Jane" || got.CurrentPhone != "15550003333" {
		t.Errorf("unexpected booking fields: %+v", got)
	}

	// Terminal update overwrites in place.
	b.State = models.BookingStateConfirmed
	b.ConfirmedPhone = "15550003333"
	b.CurrentPhone = ""
	if err := s.SaveBooking(b); err != nil {
		t.Fatalf("SaveBooking update failed: %v", err)
	}
	got, _ = s.GetBooking("bk_abc123")
	if got.State != models.BookingStateConfirmed || got.ConfirmedPhone != "15550003333" {
		t.Errorf("terminal update not applied: %+v", got)
	}

	all, err := s.ListBookings()
	if err != nil {
		t.Fatalf("ListBookings failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("ListBookings returned %d, want 1", len(all))
	}

	if missing, err := s.GetBooking("bk_missing"); err != nil || missing != nil {
		t.Errorf("missing booking = (%v, %v), want (nil, nil)", missing, err)
	}
}

func TestSQLiteStoreProviderOrder(t *testing.T) {
	s := newTestSQLiteStore(t)

	phones := []string{"15550002222", "15550003333", "15550004444"}
	for i, phone := range phones {
		p := models.Provider{Name: string(rune('A' + i)), Phone: phone, Locations: "Downtown", ServiceTypes: "Mobile"}
		if err := s.SaveProvider(p); err != nil {
			t.Fatalf("SaveProvider failed: %v", err)
		}
	}

	// Upsert keeps position.
	if err := s.SaveProvider(models.Provider{Name: "B2", Phone: "15550003333", Locations: "Midtown", ServiceTypes: "Mobile"}); err != nil {
		t.Fatalf("SaveProvider upsert failed: %v", err)
	}

	got, err := s.GetProviders()
	if err != nil {
		t.Fatalf("GetProviders failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d providers, want 3", len(got))
	}
	for i, phone := range phones {
		if got[i].Phone != phone {
			t.Errorf("provider[%d].Phone = %s, want %s", i, got[i].Phone, phone)
		}
	}
	if got[1].Name != "B2" {
		t.Errorf("upsert did not update provider: %+v", got[1])
	}
}

func TestSQLiteStoreContactSync(t *testing.T) {
	s := newTestSQLiteStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	c := models.Contact{
		ID:          "c_1",
		Phone:       "15550001111",
		Name:        "Jane",
		Source:      "booking",
		LastMessage: "Booking request",
		SyncStatus:  models.ContactSyncPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.SaveContact(c); err != nil {
		t.Fatalf("SaveContact failed: %v", err)
	}

	pending, err := s.ListContactsBySyncStatus(models.ContactSyncPending)
	if err != nil {
		t.Fatalf("ListContactsBySyncStatus failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Phone != "15550001111" {
		t.Errorf("unexpected pending contacts: %v", pending)
	}

	c.SyncStatus = models.ContactSyncDone
	c.UpdatedAt = now.Add(time.Minute)
	if err := s.SaveContact(c); err != nil {
		t.Fatalf("SaveContact update failed: %v", err)
	}

	got, err := s.GetContactByPhone("15550001111")
	if err != nil {
		t.Fatalf("GetContactByPhone failed: %v", err)
	}
	if got == nil || got.SyncStatus != models.ContactSyncDone {
		t.Errorf("unexpected contact after sync: %+v", got)
	}
}
