package hubspot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danelas/sms/internal/models"
)

// fakeHubSpot is a minimal stand-in for the contacts and communications
// endpoints.
type fakeHubSpot struct {
	contactsByPhone map[string]string // phone -> contact ID
	created         []map[string]any
	patched         []string
	communications  []map[string]any
}

func newFakeHubSpot() *fakeHubSpot {
	return &fakeHubSpot{contactsByPhone: make(map[string]string)}
}

func (f *fakeHubSpot) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /crm/v3/objects/contacts/search", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			FilterGroups []struct {
				Filters []struct {
					Value string `json:"value"`
				} `json:"filters"`
			} `json:"filterGroups"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad search payload: %v", err)
		}
		phone := req.FilterGroups[0].Filters[0].Value
		results := []map[string]string{}
		if id, ok := f.contactsByPhone[phone]; ok {
			results = append(results, map[string]string{"id": id})
		}
		json.NewEncoder(w).Encode(map[string]any{"results": results})
	})
	mux.HandleFunc("POST /crm/v3/objects/contacts", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.created = append(f.created, body)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "101"})
	})
	mux.HandleFunc("PATCH /crm/v3/objects/contacts/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.patched = append(f.patched, r.PathValue("id"))
		json.NewEncoder(w).Encode(map[string]string{"id": r.PathValue("id")})
	})
	mux.HandleFunc("POST /crm/v3/objects/communications", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.communications = append(f.communications, body)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "comm-1"})
	})
	return mux
}

func newTestClient(t *testing.T, fake *fakeHubSpot) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	c, err := NewClient(WithAccessToken("pat-test"), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientRequiresToken(t *testing.T) {
	t.Setenv("HUBSPOT_ACCESS_TOKEN", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error when access token is not set")
	}
}

func TestCreateOrUpdateContactCreates(t *testing.T) {
	fake := newFakeHubSpot()
	c := newTestClient(t, fake)

	id, err := c.CreateOrUpdateContact(context.Background(), models.Contact{
		Phone:       "15550001111",
		Name:        "Jane Q Public",
		Source:      "booking",
		LastMessage: "Booking request",
	})
	if err != nil {
		t.Fatalf("CreateOrUpdateContact failed: %v", err)
	}
	if id != "101" {
		t.Errorf("id = %s, want 101", id)
	}
	if len(fake.created) != 1 {
		t.Fatalf("created %d contacts, want 1", len(fake.created))
	}
	props := fake.created[0]["properties"].(map[string]any)
	if props["firstname"] != "Jane" || props["lastname"] != "Q Public" {
		t.Errorf("name not split: %v", props)
	}
	if props["hs_lead_status"] != "SMS_LEAD" || props["lifecyclestage"] != "lead" {
		t.Errorf("lead properties missing: %v", props)
	}
	if props["hs_lead_source"] != "booking" {
		t.Errorf("source not mapped: %v", props)
	}
}

func TestCreateOrUpdateContactUpdatesExisting(t *testing.T) {
	fake := newFakeHubSpot()
	fake.contactsByPhone["15550001111"] = "42"
	c := newTestClient(t, fake)

	id, err := c.CreateOrUpdateContact(context.Background(), models.Contact{Phone: "15550001111"})
	if err != nil {
		t.Fatalf("CreateOrUpdateContact failed: %v", err)
	}
	if id != "42" {
		t.Errorf("id = %s, want 42", id)
	}
	if len(fake.patched) != 1 || fake.patched[0] != "42" {
		t.Errorf("patched = %v, want [42]", fake.patched)
	}
	if len(fake.created) != 0 {
		t.Errorf("created a contact that already exists")
	}
}

func TestLogCommunication(t *testing.T) {
	fake := newFakeHubSpot()
	c := newTestClient(t, fake)

	if err := c.LogCommunication(context.Background(), "42", "YES", DirectionInbound); err != nil {
		t.Fatalf("LogCommunication failed: %v", err)
	}
	if len(fake.communications) != 1 {
		t.Fatalf("logged %d communications, want 1", len(fake.communications))
	}
	props := fake.communications[0]["properties"].(map[string]any)
	if props["hs_communication_direction"] != DirectionInbound {
		t.Errorf("direction = %v", props["hs_communication_direction"])
	}
	if props["hs_communication_from"] != "42" || props["hs_communication_to"] != "SMS" {
		t.Errorf("inbound to/from not set: %v", props)
	}

	if err := c.LogCommunication(context.Background(), "", "YES", DirectionInbound); err == nil {
		t.Error("expected error for missing contact ID")
	}
}

func TestLogCommunicationTruncatesBody(t *testing.T) {
	fake := newFakeHubSpot()
	c := newTestClient(t, fake)

	long := strings.Repeat("x", maxCommunicationBody+100)
	if err := c.LogCommunication(context.Background(), "42", long, DirectionOutbound); err != nil {
		t.Fatalf("LogCommunication failed: %v", err)
	}
	props := fake.communications[0]["properties"].(map[string]any)
	if body := props["hs_communication_body"].(string); len(body) != maxCommunicationBody {
		t.Errorf("body length = %d, want %d", len(body), maxCommunicationBody)
	}
}

func TestErrorStatusSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"rate limited"}`, http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(WithAccessToken("pat-test"), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	_, err = c.CreateOrUpdateContact(context.Background(), models.Contact{Phone: "15550001111"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("error = %v, want status surfaced", err)
	}
}
