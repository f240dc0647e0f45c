// Package api exposes the HTTP surface of the booking service: booking
// creation and lookup, provider management, inbound SMS and form webhooks,
// and operational endpoints for receipts, responses, and stats.
//
// The server also owns the inbound message pump: responses emitted by the
// messaging service are offered to the booking coordinator first, and
// anything the coordinator has no use for falls through to the GenAI
// assistant.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/danelas/sms/internal/coordinator"
	"github.com/danelas/sms/internal/directory"
	"github.com/danelas/sms/internal/messaging"
	"github.com/danelas/sms/internal/models"
	"github.com/danelas/sms/internal/store"
	"github.com/danelas/sms/internal/util"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Assistant generates conversational replies for messages that are not
// part of a booking flow. Satisfied by genai.Client.
type Assistant interface {
	GenerateReply(ctx context.Context, userMessage string) (string, error)
	GenerateFormReply(ctx context.Context, name, phone, message string) (string, error)
}

// inboundWebhookProvider is implemented by messaging services that accept
// transport webhooks, such as messaging.TwilioService.
type inboundWebhookProvider interface {
	TwilioWebhookHandler(w http.ResponseWriter, r *http.Request)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr      string
	Assistant Assistant
}

// Option configures API server options.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAssistant enables the GenAI fallback for non-booking messages.
func WithAssistant(a Assistant) Option {
	return func(o *Opts) { o.Assistant = a }
}

// Server wires the coordinator, messaging service, provider directory,
// and store behind HTTP endpoints.
type Server struct {
	addr        string
	msgService  messaging.Service
	coordinator *coordinator.Coordinator
	st          store.Store
	dir         *directory.Directory
	assistant   Assistant

	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates the API server.
func NewServer(msgService messaging.Service, coord *coordinator.Coordinator, st store.Store, dir *directory.Directory, opts ...Option) *Server {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	if o.Addr == "" {
		o.Addr = DefaultAddr
	}
	return &Server{
		addr:        o.Addr,
		msgService:  msgService,
		coordinator: coord,
		st:          st,
		dir:         dir,
		assistant:   o.Assistant,
	}
}

// routes builds the HTTP mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/book", s.bookHandler)
	mux.HandleFunc("/bookings", s.listBookingsHandler)
	mux.HandleFunc("/bookings/", s.getBookingHandler)
	mux.HandleFunc("/providers", s.providersHandler)
	mux.HandleFunc("/receipts", s.receiptsHandler)
	mux.HandleFunc("/responses", s.responsesHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/webhook/form", s.formWebhookHandler)
	if wh, ok := s.msgService.(inboundWebhookProvider); ok {
		mux.HandleFunc("/webhook/sms", wh.TwilioWebhookHandler)
	}
	return mux
}

// Run starts the message pumps and the HTTP server, and blocks until the
// context is cancelled or the server fails.
func (s *Server) Run(ctx context.Context) error {
	s.wg.Add(2)
	go s.consumeReceipts()
	go s.consumeResponses(ctx)

	s.httpServer = &http.Server{Addr: s.addr, Handler: s.routes()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("API server shutdown error", "error", err)
		}
		// Stopping the messaging service closes its channels, which is
		// what lets the message pumps drain and exit.
		if err := s.msgService.Stop(); err != nil {
			slog.Error("Messaging service stop error", "error", err)
		}
		s.wg.Wait()
		return nil
	case err := <-errCh:
		// The listener failed on its own; the message pumps still need
		// the service stopped so they can drain and exit.
		if stopErr := s.msgService.Stop(); stopErr != nil {
			slog.Error("Messaging service stop error", "error", stopErr)
		}
		s.wg.Wait()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// consumeReceipts persists delivery receipts emitted by the messaging
// service. The loop exits when the service closes its receipts channel.
func (s *Server) consumeReceipts() {
	defer s.wg.Done()
	for receipt := range s.msgService.Receipts() {
		if err := s.st.AddReceipt(receipt); err != nil {
			slog.Error("Server failed to store receipt", "to", receipt.To, "error", err)
		}
	}
}

// consumeResponses routes inbound messages: the coordinator gets first
// refusal, everything else goes to the assistant.
func (s *Server) consumeResponses(ctx context.Context) {
	defer s.wg.Done()
	for response := range s.msgService.Responses() {
		s.handleInbound(ctx, response)
	}
}

func (s *Server) handleInbound(ctx context.Context, response models.Response) {
	if err := s.st.AddResponse(response); err != nil {
		slog.Error("Server failed to store response", "from", response.From, "error", err)
	}

	handled, err := s.coordinator.SubmitReply(ctx, response.From, response.Body)
	if err != nil {
		slog.Warn("Server failed to submit reply to coordinator", "from", response.From, "error", err)
		return
	}
	if handled {
		return
	}

	// Not part of a booking conversation: remember the sender and let the
	// assistant answer.
	s.recordContact(response.From, "", "sms", response.Body)
	if s.assistant == nil {
		return
	}
	reply, err := s.assistant.GenerateReply(ctx, response.Body)
	if err != nil {
		slog.Error("Server assistant reply failed", "from", response.From, "error", err)
		return
	}
	if err := s.msgService.SendMessage(ctx, response.From, reply); err != nil {
		slog.Error("Server failed to send assistant reply", "to", response.From, "error", err)
	}
}

// recordContact upserts a CRM contact with pending sync status so the
// maintenance job pushes it to HubSpot.
func (s *Server) recordContact(phone, name, source, lastMessage string) {
	canonical, err := s.msgService.ValidateAndCanonicalizeRecipient(phone)
	if err != nil {
		slog.Debug("Server skipping contact with invalid phone", "phone", phone, "error", err)
		return
	}

	now := time.Now()
	contact := models.Contact{
		ID:        util.GenerateContactID(),
		Phone:     canonical,
		CreatedAt: now,
	}
	if existing, err := s.st.GetContactByPhone(canonical); err == nil && existing != nil {
		contact = *existing
	}
	if name != "" {
		contact.Name = name
	}
	if source != "" {
		contact.Source = source
	}
	contact.LastMessage = lastMessage
	contact.SyncStatus = models.ContactSyncPending
	contact.UpdatedAt = now

	if err := s.st.SaveContact(contact); err != nil {
		slog.Warn("Server failed to record contact", "phone", canonical, "error", err)
	}
}
