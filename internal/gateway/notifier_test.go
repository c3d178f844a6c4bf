package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestWebhookNotifierDelivers(t *testing.T) {
	var mu sync.Mutex
	var got []StatusNotification
	var keys []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sn StatusNotification
		if err := json.NewDecoder(r.Body).Decode(&sn); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		got = append(got, sn)
		keys = append(keys, r.Header.Get("X-Api-Key"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.WebhookURL = srv.URL
	cfg.APIKey = "secret-key"

	n := NewWebhookNotifier(discardLogger(), cfg)
	n.Notify(StatusNotification{SessionID: "s1", OwnerID: "u1", Status: StateConnected, PhoneNumber: "15551234567"})
	n.Notify(StatusNotification{SessionID: "s1", OwnerID: "u1", Status: StateDisconnected, Reason: "LOGOUT"})
	n.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("delivered %d notifications, want 2", len(got))
	}
	if got[0].SessionID != "s1" || got[0].Status != StateConnected || got[0].PhoneNumber != "15551234567" {
		t.Fatalf("unexpected payload %+v", got[0])
	}
	if got[1].Reason != "LOGOUT" {
		t.Fatalf("unexpected payload %+v", got[1])
	}
	for _, k := range keys {
		if k != "secret-key" {
			t.Fatalf("missing shared secret header, got %q", k)
		}
	}
}

func TestWebhookNotifierSwallowsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.WebhookURL = srv.URL

	n := NewWebhookNotifier(discardLogger(), cfg)
	// Must not block, panic, or surface anything to the caller.
	n.Notify(StatusNotification{SessionID: "s1", OwnerID: "u1", Status: StateAuthFailed, Error: "bad scan"})
	n.Close()
}

func TestWebhookNotifierDisabledWithoutURL(t *testing.T) {
	n := NewWebhookNotifier(discardLogger(), DefaultConfig())
	n.Notify(StatusNotification{SessionID: "s1", Status: StateConnected})
	n.Close()
}
