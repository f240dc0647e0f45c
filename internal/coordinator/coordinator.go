// Package coordinator implements the booking lifecycle: it solicits
// providers one at a time over SMS, enforces a response window per
// solicitation, and resolves each solicitation exactly once whether the
// outcome is an acceptance, a decline, or a timeout.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/danelas/sms/internal/directory"
	"github.com/danelas/sms/internal/models"
	"github.com/danelas/sms/internal/store"
	"github.com/danelas/sms/internal/util"
)

// DefaultResponseTimeout is how long a solicited provider has to reply
// before the request cascades to the next candidate.
const DefaultResponseTimeout = 15 * time.Minute

// MessageSender is the slice of the messaging service the coordinator
// needs: recipient canonicalization and outbound sends.
type MessageSender interface {
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)
	SendMessage(ctx context.Context, to string, body string) error
}

// solicitation is an in-flight offer to one provider for one booking.
// There is at most one per canonical provider phone; whichever event
// (reply or timeout) removes it from the active map owns its resolution.
type solicitation struct {
	bookingID     string
	providerPhone string // as registered in the directory
	timerID       string
}

// Coordinator drives bookings through the pending -> awaiting_response ->
// confirmed/exhausted state machine.
//
// A single mutex guards both the booking table and the active-solicitation
// map, so every resolution is a remove-then-act under the lock: the event
// that removes the solicitation performs the transition, and the losing
// event of a reply/timeout race finds nothing to remove and does nothing.
// SMS sends always happen outside the lock.
type Coordinator struct {
	sender    MessageSender
	directory *directory.Directory
	store     store.Store
	timer     Timer

	responseTimeout time.Duration

	mu       sync.Mutex
	bookings map[string]*models.Booking
	active   map[string]*solicitation // keyed by canonical provider phone
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithResponseTimeout overrides the provider response window.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.responseTimeout = d
		}
	}
}

// WithTimer overrides the timer implementation, mainly for tests.
func WithTimer(t Timer) Option {
	return func(c *Coordinator) { c.timer = t }
}

// New creates a Coordinator. The store is used for durability only; the
// in-memory booking table is authoritative while the process runs.
func New(sender MessageSender, dir *directory.Directory, st store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		sender:          sender,
		directory:       dir,
		store:           st,
		timer:           NewSimpleTimer(),
		responseTimeout: DefaultResponseTimeout,
		bookings:        make(map[string]*models.Booking),
		active:          make(map[string]*solicitation),
	}
	for _, opt := range opts {
		opt(c)
	}
	slog.Debug("Coordinator created", "response_timeout", c.responseTimeout)
	return c
}

// CreateBooking validates the request, registers a new booking, and
// solicits the first eligible provider before returning. If no provider
// matches, the booking is returned already exhausted.
func (c *Coordinator) CreateBooking(ctx context.Context, req models.BookingRequest) (*models.Booking, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	clientPhone, err := c.sender.ValidateAndCanonicalizeRecipient(req.ClientPhone)
	if err != nil {
		return nil, fmt.Errorf("invalid client phone %s: %w", req.ClientPhone, err)
	}

	id := strings.TrimSpace(req.BookingID)
	if id == "" {
		id = util.GenerateBookingID()
	}

	now := time.Now()
	b := &models.Booking{
		ID:          id,
		ClientPhone: clientPhone,
		ClientName:  req.ClientName,
		Location:    req.Location,
		ServiceType: req.ServiceType,
		State:       models.BookingStatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	c.mu.Lock()
	if _, exists := c.bookings[b.ID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("booking %s already exists", b.ID)
	}
	c.bookings[b.ID] = b
	c.mu.Unlock()

	c.persistBooking(cloneBooking(b))
	slog.Info("Coordinator booking created", "booking_id", b.ID, "location", b.Location, "service_type", b.ServiceType)

	c.dispatchNext(ctx, b.ID)
	return c.GetBooking(b.ID)
}

// GetBooking returns a copy of the booking, or models.ErrBookingNotFound.
func (c *Coordinator) GetBooking(id string) (*models.Booking, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.bookings[id]
	if !ok {
		return nil, models.ErrBookingNotFound
	}
	out := cloneBooking(b)
	return &out, nil
}

// ListBookings returns copies of all bookings the coordinator knows about.
func (c *Coordinator) ListBookings() []models.Booking {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Booking, 0, len(c.bookings))
	for _, b := range c.bookings {
		out = append(out, cloneBooking(b))
	}
	return out
}

// ActiveSolicitations returns the number of providers currently being
// waited on.
func (c *Coordinator) ActiveSolicitations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// SubmitReply processes an inbound SMS. It returns true when the message
// was consumed as part of a booking conversation (a decision on an active
// solicitation, a clarification prompt, or a late decision), and false
// when the coordinator has no use for it and the caller may route it
// elsewhere.
func (c *Coordinator) SubmitReply(ctx context.Context, from, body string) (bool, error) {
	canonical, err := c.sender.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		return false, fmt.Errorf("invalid sender %s: %w", from, err)
	}
	decision := models.NormalizeDecision(body)

	c.mu.Lock()
	sol, ok := c.active[canonical]
	if !ok {
		c.mu.Unlock()
		if decision == models.DecisionUnrecognized {
			return false, nil
		}
		// A YES/NO with nothing pending is a provider answering after
		// their window was resolved.
		if c.isProviderPhone(canonical) {
			slog.Info("Coordinator late decision from provider", "phone", canonical, "decision", decision)
			c.send(ctx, from, msgLateReply)
			return true, nil
		}
		return false, nil
	}

	if decision == models.DecisionUnrecognized {
		// Solicitation stays armed; ask again.
		c.mu.Unlock()
		slog.Debug("Coordinator unrecognized reply on active solicitation", "phone", canonical, "booking_id", sol.bookingID)
		c.send(ctx, sol.providerPhone, msgClarify)
		return true, nil
	}

	// This reply owns the solicitation from here on.
	delete(c.active, canonical)
	c.timer.Cancel(sol.timerID)

	b := c.bookings[sol.bookingID]
	if b == nil || b.State.IsTerminal() {
		c.mu.Unlock()
		return true, nil
	}
	if decision == models.DecisionAccept {
		b.State = models.BookingStateConfirmed
		b.ConfirmedPhone = sol.providerPhone
		b.CurrentPhone = ""
		b.UpdatedAt = time.Now()
		snapshot := cloneBooking(b)
		c.mu.Unlock()

		c.persistBooking(snapshot)
		slog.Info("Coordinator booking confirmed", "booking_id", snapshot.ID, "provider", sol.providerPhone)
		c.send(ctx, sol.providerPhone, providerConfirmMessage(snapshot))
		c.send(ctx, snapshot.ClientPhone, clientConfirmMessage(snapshot))
		return true, nil
	}

	// Decline: release the provider and move on.
	b.CurrentPhone = ""
	b.UpdatedAt = time.Now()
	snapshot := cloneBooking(b)
	c.mu.Unlock()

	c.persistBooking(snapshot)
	slog.Info("Coordinator provider declined", "booking_id", snapshot.ID, "provider", sol.providerPhone)
	c.send(ctx, sol.providerPhone, msgDeclineAck)
	c.dispatchNext(ctx, sol.bookingID)
	return true, nil
}

// handleTimeout fires when a solicited provider has not answered within
// the response window. It goes through the same remove-then-act path as
// SubmitReply, so a reply that landed first makes this a no-op.
func (c *Coordinator) handleTimeout(bookingID, canonical string) {
	c.mu.Lock()
	sol, ok := c.active[canonical]
	if !ok || sol.bookingID != bookingID {
		c.mu.Unlock()
		slog.Debug("Coordinator timeout lost race to reply", "booking_id", bookingID, "phone", canonical)
		return
	}
	delete(c.active, canonical)

	b := c.bookings[bookingID]
	if b == nil || b.State.IsTerminal() {
		c.mu.Unlock()
		return
	}
	b.CurrentPhone = ""
	b.UpdatedAt = time.Now()
	snapshot := cloneBooking(b)
	c.mu.Unlock()

	c.persistBooking(snapshot)
	slog.Info("Coordinator solicitation timed out", "booking_id", bookingID, "provider", sol.providerPhone)
	c.dispatchNext(context.Background(), bookingID)
}

// dispatchNext solicits the next eligible provider for the booking, or
// marks it exhausted when no candidate remains. The solicitation is
// registered and its timer armed before the SMS goes out, so an
// immediate reply always finds it; a failed send removes it again and
// the loop cascades to the next candidate.
func (c *Coordinator) dispatchNext(ctx context.Context, bookingID string) {
	for {
		c.mu.Lock()
		b := c.bookings[bookingID]
		if b == nil || b.State.IsTerminal() {
			c.mu.Unlock()
			return
		}

		next, canonical := c.pickCandidateLocked(b)
		if next == nil {
			b.State = models.BookingStateExhausted
			b.CurrentPhone = ""
			b.UpdatedAt = time.Now()
			snapshot := cloneBooking(b)
			c.mu.Unlock()

			c.persistBooking(snapshot)
			slog.Info("Coordinator booking exhausted", "booking_id", bookingID, "contacted", len(snapshot.Contacted))
			c.send(ctx, snapshot.ClientPhone, clientExhaustedMessage(snapshot))
			return
		}

		b.State = models.BookingStateAwaitingResponse
		b.Contacted = append(b.Contacted, next.Phone)
		b.CurrentPhone = next.Phone
		b.UpdatedAt = time.Now()
		sol := &solicitation{bookingID: bookingID, providerPhone: next.Phone}
		c.active[canonical] = sol
		timerID, err := c.timer.ScheduleAfter(c.responseTimeout, func() {
			c.handleTimeout(bookingID, canonical)
		})
		if err != nil {
			// Cannot enforce the window without a timer; treat like a
			// failed send and try the next candidate.
			delete(c.active, canonical)
			b.CurrentPhone = ""
			c.mu.Unlock()
			slog.Error("Coordinator failed to arm response timer", "booking_id", bookingID, "provider", next.Phone, "error", err)
			continue
		}
		sol.timerID = timerID
		snapshot := cloneBooking(b)
		c.mu.Unlock()

		c.persistBooking(snapshot)
		slog.Info("Coordinator soliciting provider", "booking_id", bookingID, "provider", next.Phone,
			"attempt", len(snapshot.Contacted), "timeout", c.responseTimeout)

		if err := c.sender.SendMessage(ctx, next.Phone, solicitationMessage(snapshot)); err != nil {
			slog.Warn("Coordinator solicitation send failed", "booking_id", bookingID, "provider", next.Phone, "error", err)
			c.mu.Lock()
			if cur, ok := c.active[canonical]; ok && cur == sol {
				delete(c.active, canonical)
				c.timer.Cancel(sol.timerID)
				if b := c.bookings[bookingID]; b != nil && !b.State.IsTerminal() {
					b.CurrentPhone = ""
					b.UpdatedAt = time.Now()
				}
				c.mu.Unlock()
				continue
			}
			// The provider answered before we noticed the transport
			// error; whatever resolved the solicitation owns the booking.
			c.mu.Unlock()
			return
		}
		return
	}
}

// pickCandidateLocked returns the next eligible provider for the booking
// and their canonical phone. Callers must hold c.mu. Candidates with an
// invalid phone or an active solicitation for another booking are marked
// contacted and skipped so the cascade always makes progress.
func (c *Coordinator) pickCandidateLocked(b *models.Booking) (*models.Provider, string) {
	candidates := c.directory.FindProviders(b.Location, b.ServiceType, b.Contacted)
	for i := range candidates {
		canonical, err := c.sender.ValidateAndCanonicalizeRecipient(candidates[i].Phone)
		if err != nil {
			slog.Warn("Coordinator skipping provider with invalid phone", "booking_id", b.ID,
				"provider", candidates[i].Name, "phone", candidates[i].Phone, "error", err)
			b.Contacted = append(b.Contacted, candidates[i].Phone)
			continue
		}
		if _, busy := c.active[canonical]; busy {
			slog.Debug("Coordinator skipping busy provider", "booking_id", b.ID, "provider", candidates[i].Phone)
			b.Contacted = append(b.Contacted, candidates[i].Phone)
			continue
		}
		return &candidates[i], canonical
	}
	return nil, ""
}

// isProviderPhone reports whether the canonical phone belongs to a
// registered provider.
func (c *Coordinator) isProviderPhone(canonical string) bool {
	for _, p := range c.directory.All() {
		if pc, err := c.sender.ValidateAndCanonicalizeRecipient(p.Phone); err == nil && pc == canonical {
			return true
		}
	}
	return false
}

// Restore loads persisted bookings into memory and resumes dispatch for
// any that were still in flight when the process last stopped. Timers do
// not survive a restart, so an in-flight solicitation counts as timed
// out and the cascade continues with the next candidate.
func (c *Coordinator) Restore(ctx context.Context) error {
	persisted, err := c.store.ListBookings()
	if err != nil {
		return fmt.Errorf("failed to load bookings: %w", err)
	}

	var resume []string
	c.mu.Lock()
	for i := range persisted {
		b := cloneBooking(&persisted[i])
		if !b.State.IsTerminal() {
			b.CurrentPhone = ""
			resume = append(resume, b.ID)
		}
		c.bookings[b.ID] = &b
	}
	c.mu.Unlock()

	slog.Info("Coordinator restored bookings", "total", len(persisted), "resumed", len(resume))
	for _, id := range resume {
		c.dispatchNext(ctx, id)
	}
	return nil
}

// Stop cancels all pending response timers. In-flight bookings remain in
// the store and are resumed by Restore on the next start.
func (c *Coordinator) Stop() {
	c.timer.Stop()
	slog.Info("Coordinator stopped")
}

// send delivers a best-effort notification outside the coordination lock.
func (c *Coordinator) send(ctx context.Context, to, body string) {
	if err := c.sender.SendMessage(ctx, to, body); err != nil {
		slog.Warn("Coordinator notification send failed", "to", to, "error", err)
	}
}

// persistBooking writes the booking snapshot to the store. Persistence is
// best-effort: the in-memory table stays authoritative and a store error
// never blocks a transition.
func (c *Coordinator) persistBooking(b models.Booking) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveBooking(b); err != nil {
		slog.Error("Coordinator failed to persist booking", "booking_id", b.ID, "error", err)
	}
}

func cloneBooking(b *models.Booking) models.Booking {
	out := *b
	out.Contacted = append([]string(nil), b.Contacted...)
	return out
}
