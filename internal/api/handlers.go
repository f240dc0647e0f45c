// Package api provides HTTP handlers for the booking service endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danelas/sms/internal/models"
)

// bookHandler creates a booking and solicits the first eligible provider
// (POST /book).
func (s *Server) bookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.bookHandler: processing booking request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.bookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.bookHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	booking, err := s.coordinator.CreateBooking(r.Context(), req)
	if err != nil {
		slog.Warn("Server.bookHandler: booking creation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	// Remember the client for CRM sync.
	s.recordContact(booking.ClientPhone, req.ClientName, "booking",
		"Booking request: "+booking.ServiceType+" in "+booking.Location)

	if booking.State == models.BookingStateExhausted {
		slog.Info("Server.bookHandler: no providers for request", "booking_id", booking.ID,
			"location", booking.Location, "service_type", booking.ServiceType)
		writeJSONResponse(w, http.StatusNotFound,
			models.NewAPIResponseBuilder().
				WithStatus(models.APIStatusError).
				WithMessage("No providers found for this location/type").
				WithResult(booking).
				Build())
		return
	}

	slog.Info("Server.bookHandler: booking request sent", "booking_id", booking.ID, "provider", booking.CurrentPhone)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Booking request sent", booking))
}

// listBookingsHandler returns all bookings (GET /bookings).
func (s *Server) listBookingsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	bookings := s.coordinator.ListBookings()
	slog.Debug("Server.listBookingsHandler: bookings fetched", "count", len(bookings))
	writeJSONResponse(w, http.StatusOK, models.Success(bookings))
}

// getBookingHandler returns a single booking (GET /bookings/{id}).
func (s *Server) getBookingHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/bookings/")
	if id == "" || strings.Contains(id, "/") {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid booking ID"))
		return
	}

	booking, err := s.coordinator.GetBooking(id)
	if err != nil {
		if errors.Is(err, models.ErrBookingNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Booking not found"))
			return
		}
		slog.Error("Server.getBookingHandler: lookup failed", "booking_id", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch booking"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(booking))
}

// providersHandler lists registered providers (GET /providers) or
// registers a new one (POST /providers).
func (s *Server) providersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSONResponse(w, http.StatusOK, models.Success(s.dir.All()))
	case http.MethodPost:
		if r.Body != nil {
			defer r.Body.Close()
		}
		var p models.Provider
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			slog.Warn("Server.providersHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		canonical, err := s.msgService.ValidateAndCanonicalizeRecipient(p.Phone)
		if err != nil {
			slog.Warn("Server.providersHandler: phone validation failed", "error", err, "phone", p.Phone)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		p.Phone = canonical
		if err := s.dir.Add(p); err != nil {
			slog.Warn("Server.providersHandler: registration failed", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		if err := s.st.SaveProvider(p); err != nil {
			slog.Error("Server.providersHandler: failed to persist provider", "phone", p.Phone, "error", err)
		}
		slog.Info("Server.providersHandler: provider registered", "name", p.Name, "phone", p.Phone)
		writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Provider registered", p))
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// receiptsHandler returns delivery receipts for outbound messages
// (GET /receipts).
func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	receipts, err := s.st.GetReceipts()
	if err != nil {
		slog.Error("Error fetching receipts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch receipts"))
		return
	}
	slog.Debug("receipts fetched", "count", len(receipts))
	writeJSONResponse(w, http.StatusOK, models.Success(receipts))
}

// responsesHandler returns all collected inbound messages (GET /responses).
func (s *Server) responsesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	responses, err := s.st.GetResponses()
	if err != nil {
		slog.Error("Error fetching responses", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch responses"))
		return
	}
	slog.Debug("responses fetched", "count", len(responses))
	writeJSONResponse(w, http.StatusOK, models.Success(responses))
}

// statsHandler returns booking funnel statistics (GET /stats).
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	bookings := s.coordinator.ListBookings()
	byState := make(map[string]int)
	for _, b := range bookings {
		byState[string(b.State)]++
	}

	responses, err := s.st.GetResponses()
	if err != nil {
		slog.Error("Error fetching responses in statsHandler", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch responses"))
		return
	}

	stats := map[string]interface{}{
		"total_bookings":       len(bookings),
		"bookings_by_state":    byState,
		"active_solicitations": s.coordinator.ActiveSolicitations(),
		"providers":            s.dir.Len(),
		"total_responses":      len(responses),
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":               "healthy",
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
		"providers":            s.dir.Len(),
		"active_solicitations": s.coordinator.ActiveSolicitations(),
	}
	if _, err := s.st.GetReceipts(); err != nil {
		slog.Warn("Health check: store probe failed", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Store unavailable"
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}

// formWebhookPayload is the submission shape posted by the website
// contact form.
type formWebhookPayload struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// formWebhookHandler handles website form submissions (POST /webhook/form).
// The submission is recorded as a CRM contact and answered by the
// assistant when one is configured.
func (s *Server) formWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	payload, err := parseFormWebhook(r)
	if err != nil {
		slog.Warn("Server.formWebhookHandler: failed to parse submission", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form submission"))
		return
	}
	if payload.Phone == "" && payload.Message == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Form submission is empty"))
		return
	}

	slog.Info("Server.formWebhookHandler: form submission received", "name", payload.Name)
	if payload.Phone != "" {
		s.recordContact(payload.Phone, payload.Name, "form", payload.Message)
	}

	if s.assistant == nil {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Form received", nil))
		return
	}

	reply, err := s.assistant.GenerateFormReply(r.Context(), payload.Name, payload.Phone, payload.Message)
	if err != nil {
		slog.Error("Server.formWebhookHandler: assistant reply failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to generate reply"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"reply": reply}))
}

// parseFormWebhook accepts either a JSON body or a url-encoded form.
func parseFormWebhook(r *http.Request) (formWebhookPayload, error) {
	var payload formWebhookPayload
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return payload, err
		}
		return payload, nil
	}
	if err := r.ParseForm(); err != nil {
		return payload, err
	}
	payload.Name = r.FormValue("name")
	payload.Phone = r.FormValue("phone")
	payload.Message = r.FormValue("message")
	return payload, nil
}
