package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"schoolchat/internal/config"
	"schoolchat/pkg/types"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewClient(&config.APIConfig{BaseURL: server.URL, Timeout: 2 * time.Second}, "parent-1")
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestClient_CreateMessage(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-User-ID"); got != "parent-1" {
			t.Errorf("X-User-ID = %q", got)
		}
		var req struct {
			ReceiverID string `json:"receiver_id"`
			Message    string `json:"message"`
			ClientID   string `json:"client_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.ReceiverID != "admin-1" || req.Message != "thanks" || req.ClientID == "" {
			t.Errorf("request = %+v", req)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"message": types.Message{
				ID: "m2", ClientID: req.ClientID,
				SenderID: "parent-1", ReceiverID: "admin-1",
				Body: "thanks", Kind: types.KindText, CreatedAt: time.Now(),
			},
		})
	})

	msg, err := c.CreateMessage(context.Background(), "admin-1", "thanks", "corr-1")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if msg.ID != "m2" || msg.ClientID != "corr-1" {
		t.Errorf("message = %+v", msg)
	}
}

func TestClient_ServerErrorSurfacedVerbatim(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "receiver is not accepting messages"})
	})

	_, err := c.CreateMessage(context.Background(), "admin-1", "hi", "corr-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity {
		t.Errorf("status = %d", apiErr.Status)
	}
	if apiErr.Error() != "receiver is not accepting messages" {
		t.Errorf("message not surfaced verbatim: %q", apiErr.Error())
	}
}

func TestClient_History(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messages/admin-1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []types.Message{
				{ID: "m1", SenderID: "admin-1", ReceiverID: "parent-1", Body: "hi", Kind: types.KindText},
			},
		})
	})

	msgs, err := c.History(context.Background(), "admin-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestClient_DeleteConversation(t *testing.T) {
	var called bool
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.Method != http.MethodDelete || r.URL.Path != "/api/conversations/admin-1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.DeleteConversation(context.Background(), "admin-1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if !called {
		t.Error("endpoint not called")
	}
}

func TestClient_UnreachableBackend(t *testing.T) {
	c, err := NewClient(&config.APIConfig{BaseURL: "http://127.0.0.1:1", Timeout: 500 * time.Millisecond}, "parent-1")
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.ListConversations(context.Background())
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("want ErrUnreachable, got %v", err)
	}
}

func TestClient_RejectsBadPartnerID(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be issued for invalid ids")
	})
	if _, err := c.History(context.Background(), ""); err != types.ErrInvalidUserID {
		t.Errorf("History with empty id = %v", err)
	}
	if err := c.DeleteConversation(context.Background(), "../etc"); err != types.ErrInvalidUserID {
		t.Errorf("DeleteConversation with bad id = %v", err)
	}
}
