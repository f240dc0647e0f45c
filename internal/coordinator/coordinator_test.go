package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danelas/sms/internal/directory"
	"github.com/danelas/sms/internal/models"
	"github.com/danelas/sms/internal/store"
)

type sentMessage struct {
	To   string
	Body string
}

// fakeSender records sends and canonicalizes the way the Twilio service
// does: strip non-digits, require at least six.
type fakeSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	failTo map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{failTo: make(map[string]bool)}
}

func (f *fakeSender) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	var digits strings.Builder
	for _, r := range recipient {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() < 6 {
		return "", fmt.Errorf("invalid phone number: %s", recipient)
	}
	return digits.String(), nil
}

func (f *fakeSender) SendMessage(_ context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTo[to] {
		return fmt.Errorf("simulated send failure to %s", to)
	}
	f.sent = append(f.sent, sentMessage{To: to, Body: body})
	return nil
}

// messagesTo returns the bodies of all messages sent to a recipient.
func (f *fakeSender) messagesTo(to string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		if m.To == to {
			out = append(out, m.Body)
		}
	}
	return out
}

// fakeTimer captures scheduled callbacks so tests can fire timeouts
// deterministically.
type fakeTimer struct {
	mu        sync.Mutex
	nextID    int
	scheduled map[string]func()
	order     []string
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{scheduled: make(map[string]func())}
}

func (t *fakeTimer) ScheduleAfter(_ time.Duration, fn func()) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := fmt.Sprintf("fake_%d", t.nextID)
	t.scheduled[id] = fn
	t.order = append(t.order, id)
	return id, nil
}

func (t *fakeTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.scheduled, id)
	return nil
}

func (t *fakeTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scheduled = make(map[string]func())
}

// fireOldest runs the oldest still-armed callback, simulating that
// timer expiring. Returns false if nothing is armed.
func (t *fakeTimer) fireOldest() bool {
	t.mu.Lock()
	var fn func()
	for len(t.order) > 0 {
		id := t.order[0]
		t.order = t.order[1:]
		if f, ok := t.scheduled[id]; ok {
			fn = f
			delete(t.scheduled, id)
			break
		}
	}
	t.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

const (
	clientPhone = "+15550001111"
	alicePhone  = "+15550002222"
	bobPhone    = "+15550003333"
	carolPhone  = "+15550004444"
)

func testDirectory(t *testing.T) *directory.Directory {
	t.Helper()
	dir := directory.New()
	err := dir.AddAll([]models.Provider{
		{Name: "Alice", Phone: alicePhone, Locations: "Downtown, Midtown", ServiceTypes: "Mobile"},
		{Name: "Bob", Phone: bobPhone, Locations: "Downtown", ServiceTypes: "Mobile, In-Studio"},
		{Name: "Carol", Phone: carolPhone, Locations: "Uptown", ServiceTypes: "Mobile"},
	})
	if err != nil {
		t.Fatalf("failed to build directory: %v", err)
	}
	return dir
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeSender, *fakeTimer) {
	t.Helper()
	sender := newFakeSender()
	timer := newFakeTimer()
	c := New(sender, testDirectory(t), store.NewInMemoryStore(), WithTimer(timer))
	t.Cleanup(c.Stop)
	return c, sender, timer
}

func createTestBooking(t *testing.T, c *Coordinator) *models.Booking {
	t.Helper()
	b, err := c.CreateBooking(context.Background(), models.BookingRequest{
		ClientPhone: clientPhone,
		ClientName:  "Jane",
		Location:    "Downtown",
		ServiceType: "Mobile",
	})
	if err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}
	return b
}

func TestCreateBookingSolicitsFirstProvider(t *testing.T) {
	c, sender, _ := newTestCoordinator(t)

	b := createTestBooking(t, c)
	if b.State != models.BookingStateAwaitingResponse {
		t.Errorf("State = %s, want awaiting_response", b.State)
	}
	if len(b.Contacted) != 1 || b.Contacted[0] != alicePhone {
		t.Errorf("Contacted = %v, want [%s]", b.Contacted, alicePhone)
	}
	if b.CurrentPhone != alicePhone {
		t.Errorf("CurrentPhone = %s, want %s", b.CurrentPhone, alicePhone)
	}
	if c.ActiveSolicitations() != 1 {
		t.Errorf("ActiveSolicitations = %d, want 1", c.ActiveSolicitations())
	}

	msgs := sender.messagesTo(alicePhone)
	if len(msgs) != 1 {
		t.Fatalf("Alice received %d messages, want 1", len(msgs))
	}
	if !strings.Contains(msgs[0], "Reply YES or NO") {
		t.Errorf("solicitation missing reply instructions: %q", msgs[0])
	}
	if !strings.Contains(msgs[0], "Downtown") || !strings.Contains(msgs[0], "Mobile") {
		t.Errorf("solicitation missing booking details: %q", msgs[0])
	}
	if !strings.Contains(msgs[0], b.ID) {
		t.Errorf("solicitation missing booking reference %s: %q", b.ID, msgs[0])
	}
}

func TestAcceptConfirmsBooking(t *testing.T) {
	c, sender, _ := newTestCoordinator(t)
	b := createTestBooking(t, c)

	// Casing, surrounding whitespace, and trailing punctuation are all
	// tolerated.
	handled, err := c.SubmitReply(context.Background(), alicePhone, "  yes. ")
	if err != nil {
		t.Fatalf("SubmitReply failed: %v", err)
	}
	if !handled {
		t.Error("reply was not handled")
	}

	got, err := c.GetBooking(b.ID)
	if err != nil {
		t.Fatalf("GetBooking failed: %v", err)
	}
	if got.State != models.BookingStateConfirmed {
		t.Errorf("State = %s, want confirmed", got.State)
	}
	if got.ConfirmedPhone != alicePhone {
		t.Errorf("ConfirmedPhone = %s, want %s", got.ConfirmedPhone, alicePhone)
	}
	if got.CurrentPhone != "" {
		t.Errorf("CurrentPhone = %s, want empty", got.CurrentPhone)
	}
	if c.ActiveSolicitations() != 0 {
		t.Errorf("ActiveSolicitations = %d, want 0", c.ActiveSolicitations())
	}

	if msgs := sender.messagesTo(alicePhone); len(msgs) != 2 || !strings.Contains(msgs[1], "confirmed") {
		t.Errorf("Alice did not get a confirmation: %v", msgs)
	}
	clientMsgs := sender.messagesTo("15550001111")
	if len(clientMsgs) != 1 || !strings.Contains(clientMsgs[0], "confirmed") {
		t.Errorf("client did not get a confirmation: %v", clientMsgs)
	}
}

func TestDeclineCascadesToNextProvider(t *testing.T) {
	c, sender, _ := newTestCoordinator(t)
	b := createTestBooking(t, c)

	handled, err := c.SubmitReply(context.Background(), alicePhone, "NO")
	if err != nil || !handled {
		t.Fatalf("SubmitReply = (%v, %v), want (true, nil)", handled, err)
	}

	got, _ := c.GetBooking(b.ID)
	if got.State != models.BookingStateAwaitingResponse {
		t.Errorf("State = %s, want awaiting_response", got.State)
	}
	if got.CurrentPhone != bobPhone {
		t.Errorf("CurrentPhone = %s, want %s", got.CurrentPhone, bobPhone)
	}
	if len(got.Contacted) != 2 || got.Contacted[0] != alicePhone || got.Contacted[1] != bobPhone {
		t.Errorf("Contacted = %v", got.Contacted)
	}
	if msgs := sender.messagesTo(bobPhone); len(msgs) != 1 {
		t.Errorf("Bob received %d messages, want 1", len(msgs))
	}

	// Bob accepts.
	if handled, err := c.SubmitReply(context.Background(), bobPhone, "Y"); err != nil || !handled {
		t.Fatalf("SubmitReply = (%v, %v), want (true, nil)", handled, err)
	}
	got, _ = c.GetBooking(b.ID)
	if got.State != models.BookingStateConfirmed || got.ConfirmedPhone != bobPhone {
		t.Errorf("booking not confirmed by Bob: %+v", got)
	}
}

func TestTimeoutCascadesToNextProvider(t *testing.T) {
	c, _, timer := newTestCoordinator(t)
	b := createTestBooking(t, c)

	if !timer.fireOldest() {
		t.Fatal("no timer armed for first solicitation")
	}

	got, _ := c.GetBooking(b.ID)
	if got.State != models.BookingStateAwaitingResponse {
		t.Errorf("State = %s, want awaiting_response", got.State)
	}
	if got.CurrentPhone != bobPhone {
		t.Errorf("CurrentPhone = %s, want %s", got.CurrentPhone, bobPhone)
	}
	if len(got.Contacted) != 2 {
		t.Errorf("Contacted = %v, want two entries", got.Contacted)
	}
}

func TestAllCandidatesTimeOutExhaustsBooking(t *testing.T) {
	c, sender, timer := newTestCoordinator(t)
	b := createTestBooking(t, c)

	// Downtown Mobile matches Alice then Bob; time both out.
	if !timer.fireOldest() || !timer.fireOldest() {
		t.Fatal("expected a timer per solicitation")
	}

	got, _ := c.GetBooking(b.ID)
	if got.State != models.BookingStateExhausted {
		t.Errorf("State = %s, want exhausted", got.State)
	}
	if c.ActiveSolicitations() != 0 {
		t.Errorf("ActiveSolicitations = %d, want 0", c.ActiveSolicitations())
	}
	clientMsgs := sender.messagesTo("15550001111")
	if len(clientMsgs) != 1 || !strings.Contains(clientMsgs[0], "couldn't find an available provider") {
		t.Errorf("client not told about exhaustion: %v", clientMsgs)
	}
}

func TestNoEligibleProvidersExhaustsImmediately(t *testing.T) {
	c, sender, _ := newTestCoordinator(t)

	b, err := c.CreateBooking(context.Background(), models.BookingRequest{
		ClientPhone: clientPhone,
		Location:    "Suburbs",
		ServiceType: "Mobile",
	})
	if err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}
	if b.State != models.BookingStateExhausted {
		t.Errorf("State = %s, want exhausted", b.State)
	}
	if len(b.Contacted) != 0 {
		t.Errorf("Contacted = %v, want empty", b.Contacted)
	}
	if clientMsgs := sender.messagesTo("15550001111"); len(clientMsgs) != 1 {
		t.Errorf("client received %d messages, want 1", len(clientMsgs))
	}
}

func TestReplyBeatsTimeout(t *testing.T) {
	c, _, timer := newTestCoordinator(t)
	b := createTestBooking(t, c)

	if handled, err := c.SubmitReply(context.Background(), alicePhone, "YES"); err != nil || !handled {
		t.Fatalf("SubmitReply = (%v, %v), want (true, nil)", handled, err)
	}

	// The stale timer fires anyway; it must find nothing to resolve.
	timer.fireOldest()

	got, _ := c.GetBooking(b.ID)
	if got.State != models.BookingStateConfirmed || got.ConfirmedPhone != alicePhone {
		t.Errorf("stale timeout disturbed a confirmed booking: %+v", got)
	}
	if len(got.Contacted) != 1 {
		t.Errorf("stale timeout triggered a dispatch: Contacted = %v", got.Contacted)
	}
}

func TestLateReplyAfterTimeout(t *testing.T) {
	c, sender, timer := newTestCoordinator(t)
	b := createTestBooking(t, c)

	if !timer.fireOldest() {
		t.Fatal("no timer armed")
	}

	// Alice answers after her window closed and Bob was solicited.
	handled, err := c.SubmitReply(context.Background(), alicePhone, "YES")
	if err != nil {
		t.Fatalf("SubmitReply failed: %v", err)
	}
	if !handled {
		t.Error("late decision was not handled")
	}

	got, _ := c.GetBooking(b.ID)
	if got.State != models.BookingStateAwaitingResponse || got.CurrentPhone != bobPhone {
		t.Errorf("late reply disturbed the cascade: %+v", got)
	}
	msgs := sender.messagesTo(alicePhone)
	if len(msgs) != 2 || !strings.Contains(msgs[1], "another provider") {
		t.Errorf("Alice not told the job moved on: %v", msgs)
	}
}

func TestUnrecognizedReplyKeepsSolicitationArmed(t *testing.T) {
	c, sender, _ := newTestCoordinator(t)
	b := createTestBooking(t, c)

	handled, err := c.SubmitReply(context.Background(), alicePhone, "maybe tomorrow?")
	if err != nil || !handled {
		t.Fatalf("SubmitReply = (%v, %v), want (true, nil)", handled, err)
	}
	if c.ActiveSolicitations() != 1 {
		t.Errorf("ActiveSolicitations = %d, want 1", c.ActiveSolicitations())
	}
	msgs := sender.messagesTo(alicePhone)
	if len(msgs) != 2 || !strings.Contains(msgs[1], "YES") {
		t.Errorf("no clarification prompt sent: %v", msgs)
	}

	// A clear answer still resolves it.
	if handled, _ := c.SubmitReply(context.Background(), alicePhone, "yes"); !handled {
		t.Error("follow-up decision not handled")
	}
	got, _ := c.GetBooking(b.ID)
	if got.State != models.BookingStateConfirmed {
		t.Errorf("State = %s, want confirmed", got.State)
	}
}

func TestUnknownSenderNotHandled(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	createTestBooking(t, c)

	handled, err := c.SubmitReply(context.Background(), "+15559998888", "hello, do you do deep tissue?")
	if err != nil {
		t.Fatalf("SubmitReply failed: %v", err)
	}
	if handled {
		t.Error("message from unknown sender should not be handled")
	}
}

func TestConfirmedBookingIsTerminal(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	b := createTestBooking(t, c)

	if _, err := c.SubmitReply(context.Background(), alicePhone, "YES"); err != nil {
		t.Fatalf("SubmitReply failed: %v", err)
	}
	// A change of heart after confirmation is a late decision, not a
	// transition.
	if handled, err := c.SubmitReply(context.Background(), alicePhone, "NO"); err != nil || !handled {
		t.Fatalf("SubmitReply = (%v, %v), want (true, nil)", handled, err)
	}

	got, _ := c.GetBooking(b.ID)
	if got.State != models.BookingStateConfirmed || got.ConfirmedPhone != alicePhone {
		t.Errorf("confirmed booking changed state: %+v", got)
	}
}

func TestSendFailureCascades(t *testing.T) {
	c, sender, _ := newTestCoordinator(t)
	sender.failTo[alicePhone] = true

	b := createTestBooking(t, c)
	if b.CurrentPhone != bobPhone {
		t.Errorf("CurrentPhone = %s, want %s", b.CurrentPhone, bobPhone)
	}
	// Alice still counts as contacted so she is not retried.
	if len(b.Contacted) != 2 || b.Contacted[0] != alicePhone {
		t.Errorf("Contacted = %v", b.Contacted)
	}
	if msgs := sender.messagesTo(bobPhone); len(msgs) != 1 {
		t.Errorf("Bob received %d messages, want 1", len(msgs))
	}
}

func TestBusyProviderSkipped(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	// First booking ties up Alice.
	first := createTestBooking(t, c)
	if first.CurrentPhone != alicePhone {
		t.Fatalf("first booking went to %s, want %s", first.CurrentPhone, alicePhone)
	}

	second, err := c.CreateBooking(context.Background(), models.BookingRequest{
		ClientPhone: "+15550005555",
		Location:    "Downtown",
		ServiceType: "Mobile",
	})
	if err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}
	if second.CurrentPhone != bobPhone {
		t.Errorf("second booking went to %s, want %s", second.CurrentPhone, bobPhone)
	}
}

func TestRestoreResumesInFlightBookings(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Now()
	if err := st.SaveBooking(models.Booking{
		ID:           "bk_restored",
		ClientPhone:  "15550001111",
		Location:     "Downtown",
		ServiceType:  "Mobile",
		State:        models.BookingStateAwaitingResponse,
		Contacted:    []string{alicePhone},
		CurrentPhone: alicePhone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		t.Fatalf("SaveBooking failed: %v", err)
	}
	if err := st.SaveBooking(models.Booking{
		ID:          "bk_done",
		ClientPhone: "15550006666",
		Location:    "Uptown",
		ServiceType: "Mobile",
		State:       models.BookingStateConfirmed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		t.Fatalf("SaveBooking failed: %v", err)
	}

	sender := newFakeSender()
	timer := newFakeTimer()
	c := New(sender, testDirectory(t), st, WithTimer(timer))
	t.Cleanup(c.Stop)

	if err := c.Restore(context.Background()); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	// The interrupted solicitation counts as timed out; dispatch moves
	// to the next candidate.
	got, err := c.GetBooking("bk_restored")
	if err != nil {
		t.Fatalf("GetBooking failed: %v", err)
	}
	if got.State != models.BookingStateAwaitingResponse || got.CurrentPhone != bobPhone {
		t.Errorf("restored booking not resumed: %+v", got)
	}
	// Terminal bookings are loaded but left alone.
	done, err := c.GetBooking("bk_done")
	if err != nil {
		t.Fatalf("GetBooking failed: %v", err)
	}
	if done.State != models.BookingStateConfirmed {
		t.Errorf("terminal booking disturbed: %+v", done)
	}
	if msgs := sender.messagesTo(alicePhone); len(msgs) != 0 {
		t.Errorf("Alice re-solicited after restart: %v", msgs)
	}
}
