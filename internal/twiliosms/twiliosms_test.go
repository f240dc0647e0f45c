package twiliosms

import (
	"context"
	"testing"
)

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Error("expected error when credentials are missing")
	}

	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token")); err == nil {
		t.Error("expected error when from number is missing")
	}

	client, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token"), WithFromNumber("GoldTouch"))
	if err != nil {
		t.Fatalf("NewClient with full options failed: %v", err)
	}
	if client.fromNumber != "GoldTouch" {
		t.Errorf("fromNumber = %q, want GoldTouch", client.fromNumber)
	}
}

func TestNewClientEnvFallback(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "AC456")
	t.Setenv("TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("TWILIO_FROM_NUMBER", "+15550009999")

	client, err := NewClient()
	if err != nil {
		t.Fatalf("NewClient with env credentials failed: %v", err)
	}
	if client.fromNumber != "+15550009999" {
		t.Errorf("fromNumber = %q, want env value", client.fromNumber)
	}
}

func TestMockClient(t *testing.T) {
	mock := NewMockClient()
	ctx := context.Background()

	if err := mock.SendSMS(ctx, "+15550001111", "hello"); err != nil {
		t.Fatalf("SendSMS failed: %v", err)
	}
	if err := mock.SendSMS(ctx, "+15550001111", "again"); err != nil {
		t.Fatalf("SendSMS failed: %v", err)
	}

	mock.FailFor["+15550002222"] = true
	if err := mock.SendSMS(ctx, "+15550002222", "nope"); err == nil {
		t.Error("expected simulated failure")
	}

	bodies := mock.MessagesTo("+15550001111")
	if len(bodies) != 2 || bodies[0] != "hello" || bodies[1] != "again" {
		t.Errorf("MessagesTo = %v, want [hello again]", bodies)
	}
	if got := mock.MessagesTo("+15550002222"); len(got) != 0 {
		t.Errorf("failed sends must not be recorded, got %v", got)
	}
}
