package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestChatClient_SendMessage_Accepted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/messages" {
			t.Errorf("expected /messages, got %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer token-123" {
			t.Errorf("expected bearer token, got %q", auth)
		}

		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req["channelId"] != "C42" || req["text"] != "hello" {
			t.Errorf("unexpected request %v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":         true,
			"deliveryId": "d-1",
		})
	}))
	t.Cleanup(srv.Close)

	c := NewChatClient(srv.URL, "token-123")
	res, err := c.SendMessage(context.Background(), "C42", "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !res.OK || res.DeliveryID != "d-1" || res.Error != "" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestChatClient_SendMessage_ChannelError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":    false,
			"error": "channel_not_found",
		})
	}))
	t.Cleanup(srv.Close)

	c := NewChatClient(srv.URL, "")
	res, err := c.SendMessage(context.Background(), "C404", "hello")
	if err != nil {
		t.Fatalf("channel refusal must not be a transport error, got %v", err)
	}
	if res.OK {
		t.Fatalf("expected ok=false")
	}
	if res.Error != "channel_not_found" {
		t.Fatalf("expected error channel_not_found, got %q", res.Error)
	}
}

func TestChatClient_SendMessage_GarbageBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>upstream broke</html>"))
	}))
	t.Cleanup(srv.Close)

	c := NewChatClient(srv.URL, "")
	_, err := c.SendMessage(context.Background(), "C42", "hello")
	if err == nil {
		t.Fatalf("expected error for non-json body")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status code in error, got %v", err)
	}
}

func TestChatClient_SendMessage_MissingDeliveryID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	t.Cleanup(srv.Close)

	c := NewChatClient(srv.URL, "")
	_, err := c.SendMessage(context.Background(), "C42", "hello")
	if err == nil {
		t.Fatalf("expected error for missing deliveryId")
	}
}

func TestChatClient_SendMessage_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // deliberately closed: connection refused

	c := NewChatClient(srv.URL, "")
	if _, err := c.SendMessage(context.Background(), "C42", "hello"); err == nil {
		t.Fatalf("expected transport error")
	}
}
