package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/danelas/sms/internal/models"
	"github.com/danelas/sms/internal/store"
)

const (
	// DefaultBookingRetention is how long finished bookings are kept
	// before the pruning job removes them.
	DefaultBookingRetention = 30 * 24 * time.Hour

	// DefaultMaintenanceCron runs maintenance at the top of every hour.
	DefaultMaintenanceCron = "0 * * * *"
)

// ContactSyncer pushes contacts to the CRM. Satisfied by hubspot.Client.
type ContactSyncer interface {
	CreateOrUpdateContact(ctx context.Context, contact models.Contact) (string, error)
}

// Maintenance bundles the periodic housekeeping jobs.
type Maintenance struct {
	store     store.Store
	crm       ContactSyncer // nil disables contact sync
	retention time.Duration
}

// MaintenanceOption configures a Maintenance.
type MaintenanceOption func(*Maintenance)

// WithBookingRetention overrides how long terminal bookings are kept.
func WithBookingRetention(d time.Duration) MaintenanceOption {
	return func(m *Maintenance) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithContactSyncer enables CRM contact sync.
func WithContactSyncer(crm ContactSyncer) MaintenanceOption {
	return func(m *Maintenance) { m.crm = crm }
}

// NewMaintenance creates the maintenance job set.
func NewMaintenance(st store.Store, opts ...MaintenanceOption) *Maintenance {
	m := &Maintenance{store: st, retention: DefaultBookingRetention}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register schedules Run on the scheduler with the given cron expression.
func (m *Maintenance) Register(s *Scheduler, expr string) error {
	if expr == "" {
		expr = DefaultMaintenanceCron
	}
	return s.AddJob(expr, func() {
		m.Run(context.Background())
	})
}

// Run executes one maintenance pass.
func (m *Maintenance) Run(ctx context.Context) {
	pruned, err := m.PruneTerminalBookings(ctx)
	if err != nil {
		slog.Error("Maintenance booking prune failed", "error", err)
	}
	synced, err := m.SyncContacts(ctx)
	if err != nil {
		slog.Error("Maintenance contact sync failed", "error", err)
	}
	slog.Info("Maintenance pass complete", "bookings_pruned", pruned, "contacts_synced", synced)
}

// PruneTerminalBookings deletes confirmed and exhausted bookings whose
// last update is older than the retention window. In-flight bookings are
// never touched.
func (m *Maintenance) PruneTerminalBookings(ctx context.Context) (int, error) {
	bookings, err := m.store.ListBookings()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-m.retention)
	pruned := 0
	for _, b := range bookings {
		if err := ctx.Err(); err != nil {
			return pruned, err
		}
		if !b.State.IsTerminal() || b.UpdatedAt.After(cutoff) {
			continue
		}
		if err := m.store.DeleteBooking(b.ID); err != nil {
			slog.Warn("Maintenance failed to delete booking", "booking_id", b.ID, "error", err)
			continue
		}
		pruned++
	}
	return pruned, nil
}

// SyncContacts pushes pending and previously failed contacts to the CRM
// and records the outcome per contact.
func (m *Maintenance) SyncContacts(ctx context.Context) (int, error) {
	if m.crm == nil {
		return 0, nil
	}

	var due []models.Contact
	for _, status := range []models.ContactSyncStatus{models.ContactSyncPending, models.ContactSyncFailed} {
		contacts, err := m.store.ListContactsBySyncStatus(status)
		if err != nil {
			return 0, err
		}
		due = append(due, contacts...)
	}

	synced := 0
	for _, contact := range due {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		if _, err := m.crm.CreateOrUpdateContact(ctx, contact); err != nil {
			slog.Warn("Maintenance contact sync failed", "phone", contact.Phone, "error", err)
			contact.SyncStatus = models.ContactSyncFailed
		} else {
			contact.SyncStatus = models.ContactSyncDone
			synced++
		}
		contact.UpdatedAt = time.Now()
		if err := m.store.SaveContact(contact); err != nil {
			slog.Warn("Maintenance failed to record sync status", "phone", contact.Phone, "error", err)
		}
	}
	return synced, nil
}
