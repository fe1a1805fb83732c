package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ezchat/realtime/backend/internal/middleware"
	model "github.com/ezchat/realtime/backend/internal/model/chat"
	chatservice "github.com/ezchat/realtime/backend/internal/service/chat"
	"github.com/ezchat/realtime/backend/internal/store/memstore"
)

func setupRouter() (*chi.Mux, *chatservice.Service) {
	chatSvc := chatservice.NewService(memstore.New())
	handler := New(chatSvc)

	r := chi.NewRouter()
	handler.RegisterPublicRoutes(r)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(""))
		handler.RegisterRoutes(r)
	})
	return r, chatSvc
}

func do(r http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(middleware.DevUserHeader, userID)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func createUser(t *testing.T, r http.Handler, name, email string) model.User {
	t.Helper()
	resp := do(r, http.MethodPost, "/users", "", map[string]string{"name": name, "email": email})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var user model.User
	if err := json.Unmarshal(resp.Body.Bytes(), &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	return user
}

func TestCreateUserInvalidBody(t *testing.T) {
	r, _ := setupRouter()
	resp := do(r, http.MethodPost, "/users", "", map[string]string{"name": "x"})

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestRequiresUser(t *testing.T) {
	r, _ := setupRouter()
	resp := do(r, http.MethodGet, "/friends", "", nil)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestSetChannelConflict(t *testing.T) {
	r, _ := setupRouter()
	alice := createUser(t, r, "Alice", "alice@example.com")
	bob := createUser(t, r, "Bob", "bob@example.com")

	resp := do(r, http.MethodPut, "/users/me/channel", alice.ID, map[string]string{"channelId": "room"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	resp = do(r, http.MethodPut, "/users/me/channel", bob.ID, map[string]string{"channelId": "room"})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}

	resp = do(r, http.MethodGet, "/users/me", alice.ID, nil)
	var profile model.Profile
	_ = json.Unmarshal(resp.Body.Bytes(), &profile)
	if profile.ChannelID != "room" {
		t.Fatalf("expected channel room, got %q", profile.ChannelID)
	}
}

func TestSendAndUnsendMessage(t *testing.T) {
	r, _ := setupRouter()
	alice := createUser(t, r, "Alice", "alice@example.com")
	bob := createUser(t, r, "Bob", "bob@example.com")

	resp := do(r, http.MethodPost, "/messages", alice.ID, map[string]string{"receiverId": bob.ID, "content": "hi"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var msg model.Message
	if err := json.Unmarshal(resp.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.ID == 0 || msg.ConversationID == "" {
		t.Fatalf("expected store-assigned identity, got %+v", msg)
	}

	path := "/messages/" + jsonNumber(msg.ID) + "/unsend"
	if resp := do(r, http.MethodPost, path, bob.ID, nil); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for receiver unsend, got %d", resp.Code)
	}
	if resp := do(r, http.MethodPost, path, alice.ID, nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp := do(r, http.MethodPost, path, alice.ID, nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after unsend, got %d", resp.Code)
	}
}

func TestReadFlow(t *testing.T) {
	r, _ := setupRouter()
	alice := createUser(t, r, "Alice", "alice@example.com")
	bob := createUser(t, r, "Bob", "bob@example.com")

	for i := 0; i < 2; i++ {
		do(r, http.MethodPost, "/messages", alice.ID, map[string]string{"receiverId": bob.ID, "content": "ping"})
	}

	resp := do(r, http.MethodGet, "/messages/unread?friendId="+alice.ID, bob.ID, nil)
	var unread map[string]int
	_ = json.Unmarshal(resp.Body.Bytes(), &unread)
	if unread["unreadCount"] != 2 {
		t.Fatalf("expected 2 unread, got %v", unread)
	}

	resp = do(r, http.MethodPost, "/messages/read", bob.ID, map[string]string{"friendId": alice.ID})
	var updated map[string]int
	_ = json.Unmarshal(resp.Body.Bytes(), &updated)
	if updated["updated"] != 2 {
		t.Fatalf("expected 2 updated, got %v", updated)
	}

	resp = do(r, http.MethodGet, "/messages?friendId="+alice.ID, bob.ID, nil)
	var msgs []model.Message
	_ = json.Unmarshal(resp.Body.Bytes(), &msgs)
	if len(msgs) != 2 || !msgs[0].Read || !msgs[1].Read {
		t.Fatalf("expected two read messages, got %+v", msgs)
	}
}

func TestBadMessageID(t *testing.T) {
	r, _ := setupRouter()
	if resp := do(r, http.MethodPost, "/messages/abc/delete", "u", nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func jsonNumber(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
