package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/evdnx/gofx/testutils"
)

func TestTelegramSendsMessage(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/sendMessage" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	log := testutils.NewMockLogger()
	tg := NewTelegram("token", "chat-42", log)
	tg.baseURL = srv.URL + "/bottoken"

	tg.Notify(context.Background(), "EURUSD BUY executed")

	if got["chat_id"] != "chat-42" || got["text"] != "EURUSD BUY executed" {
		t.Fatalf("unexpected payload: %v", got)
	}
	if log.Count() != 0 {
		t.Fatalf("successful send must not log, got %q", log.LastMessage())
	}
}

func TestTelegramFailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	log := testutils.NewMockLogger()
	tg := NewTelegram("token", "chat-42", log)
	tg.baseURL = srv.URL + "/bottoken"

	tg.Notify(context.Background(), "hello") // must not panic or block
	if !log.HasMessage("telegram send failed") {
		t.Fatal("failure should be logged")
	}
}

func TestTelegramDisabledWithoutCredentials(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	tg := NewTelegram("", "", testutils.NewMockLogger())
	tg.baseURL = srv.URL
	tg.Notify(context.Background(), "hello")
	if called {
		t.Fatal("disabled notifier must not call the API")
	}
}
