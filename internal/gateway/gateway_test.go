package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/huangang/feedbackloop/internal/config"
	"github.com/huangang/feedbackloop/internal/feedback"
)

func TestNormalizePhone(t *testing.T) {
	tests := map[string]string{
		"+966 50-123-4567": "966501234567",
		"966501234567":     "966501234567",
		"":                 "",
	}
	for in, want := range tests {
		if got := NormalizePhone(in); got != want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	sig := Sign("app-secret", body)

	tests := []struct {
		name   string
		secret string
		body   []byte
		sig    string
		want   bool
	}{
		{"valid", "app-secret", body, sig, true},
		{"wrong secret", "other", body, sig, false},
		{"tampered body", "app-secret", []byte(`{}`), sig, false},
		{"missing prefix", "app-secret", body, sig[len("sha256="):], false},
		{"empty", "app-secret", body, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(tt.secret, tt.body, tt.sig); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeWebhook_MetaPayload(t *testing.T) {
	body := []byte(`{
	  "object": "whatsapp_business_account",
	  "entry": [{
	    "id": "123",
	    "changes": [{
	      "field": "messages",
	      "value": {
	        "messaging_product": "whatsapp",
	        "statuses": [
	          {"id": "wamid.A", "status": "sent", "timestamp": "1767268800", "recipient_id": "966500000001"},
	          {"id": "wamid.A", "status": "read", "timestamp": "1767268900", "recipient_id": "966500000001"}
	        ],
	        "messages": [
	          {"from": "966500000001", "id": "wamid.B", "timestamp": "1767269000", "type": "text", "text": {"body": "The food was great"}},
	          {"from": "966500000002", "id": "wamid.C", "timestamp": "1767269000", "type": "interactive",
	           "interactive": {"type": "button_reply", "button_reply": {"id": "rating_4", "title": "4"}}},
	          {"from": "966500000003", "id": "wamid.D", "timestamp": "1767269000", "type": "image"}
	        ]
	      }
	    }]
	  }]
	}`)

	envs, err := DecodeWebhook(body, time.Now())
	if err != nil {
		t.Fatalf("DecodeWebhook: %v", err)
	}
	if len(envs) != 4 {
		t.Fatalf("envelopes = %d, want 4 (image skipped)", len(envs))
	}

	if envs[0].EventID != "status_wamid.A_sent" || envs[0].Status != feedback.DeliverySent || envs[0].DeliveryID != "wamid.A" {
		t.Errorf("status envelope = %+v", envs[0])
	}
	if envs[1].EventID != "status_wamid.A_read" {
		t.Errorf("second status event id = %s", envs[1].EventID)
	}
	if !envs[0].At.Equal(time.Unix(1767268800, 0)) {
		t.Errorf("timestamp = %v", envs[0].At)
	}
	if envs[2].Kind != feedback.KindResponse || envs[2].EventID != "msg_wamid.B" || envs[2].CustomerPhone != "966500000001" || envs[2].Text != "The food was great" {
		t.Errorf("message envelope = %+v", envs[2])
	}
	if envs[3].Text != "4" {
		t.Errorf("button reply text = %q", envs[3].Text)
	}
}

func TestDecodeWebhook_GenericEvents(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		body    string
		want    []feedback.EventKind
		wantErr bool
	}{
		{"delivery", `{"delivery_id":"d1","status":"delivered","event_id":"e1"}`, []feedback.EventKind{feedback.KindDelivery}, false},
		{"response", `{"visit_id":"v1","response_text":"meh","language":"en","event_id":"e2"}`, []feedback.EventKind{feedback.KindResponse}, false},
		{"batch", `[{"delivery_id":"d1","status":"sent","event_id":"e1"},{"visit_id":"v1","response_text":"ok","event_id":"e2"}]`,
			[]feedback.EventKind{feedback.KindDelivery, feedback.KindResponse}, false},
		{"unknown shape", `{"event_id":"e3"}`, nil, true},
		{"not json", `hello`, nil, true},
		{"empty", ``, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs, err := DecodeWebhook([]byte(tt.body), now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(envs) != len(tt.want) {
				t.Fatalf("got %d envelopes, want %d", len(envs), len(tt.want))
			}
			for i, env := range envs {
				if env.Kind != tt.want[i] {
					t.Errorf("envelope %d kind = %s, want %s", i, env.Kind, tt.want[i])
				}
				if !env.At.Equal(now) {
					t.Errorf("envelope %d at = %v, want receipt time", i, env.At)
				}
				if _, err := env.Event(); err != nil {
					t.Errorf("envelope %d invalid: %v", i, err)
				}
			}
		})
	}
}

func TestWhatsAppClient_Send(t *testing.T) {
	var gotBody sendTextRequest
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.XYZ"}]}`))
	}))
	defer server.Close()

	client, err := NewWhatsAppClient(&config.WhatsAppConfig{
		BaseURL:       server.URL,
		PhoneNumberID: "1001",
		AccessToken:   "token-1",
	})
	if err != nil {
		t.Fatal(err)
	}

	id, err := client.Send(context.Background(), Message{VisitID: "v1", To: "+966 500 000 001", Text: "Hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "wamid.XYZ" {
		t.Errorf("delivery id = %q", id)
	}
	if gotPath != "/1001/messages" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer token-1" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotBody.To != "966500000001" || gotBody.Text.Body != "Hello" || gotBody.MessagingProduct != "whatsapp" {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestWhatsAppClient_SendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`))
	}))
	defer server.Close()

	client, _ := NewWhatsAppClient(&config.WhatsAppConfig{BaseURL: server.URL, PhoneNumberID: "1", AccessToken: "t"})
	if _, err := client.Send(context.Background(), Message{VisitID: "v1", To: "9665", Text: "x"}); err == nil {
		t.Error("expected error for 400 response")
	}
}

func TestNewWhatsAppClient_NotConfigured(t *testing.T) {
	if _, err := NewWhatsAppClient(&config.WhatsAppConfig{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
	if _, err := (Disabled{}).Send(context.Background(), Message{VisitID: "v1", To: "9665"}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Disabled.Send err = %v", err)
	}
}
