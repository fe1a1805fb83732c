package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StoreAPI is the durable message store as seen by one signed-in user.
// Calls block until the store answers.
type StoreAPI interface {
	SendMessage(ctx context.Context, receiverID, content string) (Message, error)
	UnsendMessage(ctx context.Context, messageID int64) (Message, error)
	DeleteMessage(ctx context.Context, messageID int64) (Message, error)
	MarkRead(ctx context.Context, friendID string) (int, error)
	UnreadCount(ctx context.Context, friendID string) (int, error)
	GetMessages(ctx context.Context, friendID string) ([]Message, error)
}

// Profile is the public view of a user.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ChannelID string `json:"channelId"`
}

// APIError is a non-2xx answer from the store API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("store api: %d %s", e.Status, e.Message)
}

// HTTPStore talks to the REST API under baseURL (for example
// "http://localhost:8080/api").
type HTTPStore struct {
	baseURL string
	userID  string
	token   string
	client  *http.Client
}

// NewHTTPStore returns a store client acting as userID. When token is set it
// is sent as a bearer token, otherwise userID goes in the X-User-ID header.
func NewHTTPStore(baseURL, userID, token string) *HTTPStore {
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (s *HTTPStore) WithHTTPClient(c *http.Client) *HTTPStore {
	s.client = c
	return s
}

func (s *HTTPStore) SendMessage(ctx context.Context, receiverID, content string) (Message, error) {
	var msg Message
	err := s.do(ctx, http.MethodPost, "/messages", map[string]string{
		"receiverId": receiverID,
		"content":    content,
	}, &msg)
	return msg, err
}

func (s *HTTPStore) UnsendMessage(ctx context.Context, messageID int64) (Message, error) {
	var msg Message
	err := s.do(ctx, http.MethodPost, "/messages/"+strconv.FormatInt(messageID, 10)+"/unsend", nil, &msg)
	return msg, err
}

func (s *HTTPStore) DeleteMessage(ctx context.Context, messageID int64) (Message, error) {
	var msg Message
	err := s.do(ctx, http.MethodPost, "/messages/"+strconv.FormatInt(messageID, 10)+"/delete", nil, &msg)
	return msg, err
}

func (s *HTTPStore) MarkRead(ctx context.Context, friendID string) (int, error) {
	var resp struct {
		Updated int `json:"updated"`
	}
	err := s.do(ctx, http.MethodPost, "/messages/read", map[string]string{"friendId": friendID}, &resp)
	return resp.Updated, err
}

func (s *HTTPStore) UnreadCount(ctx context.Context, friendID string) (int, error) {
	var resp struct {
		UnreadCount int `json:"unreadCount"`
	}
	err := s.do(ctx, http.MethodGet, "/messages/unread?friendId="+url.QueryEscape(friendID), nil, &resp)
	return resp.UnreadCount, err
}

func (s *HTTPStore) GetMessages(ctx context.Context, friendID string) ([]Message, error) {
	var msgs []Message
	err := s.do(ctx, http.MethodGet, "/messages?friendId="+url.QueryEscape(friendID), nil, &msgs)
	return msgs, err
}

// CreateUser registers an account. It needs no credentials.
func (s *HTTPStore) CreateUser(ctx context.Context, name, email string) (Profile, error) {
	var p Profile
	err := s.do(ctx, http.MethodPost, "/users", map[string]string{"name": name, "email": email}, &p)
	return p, err
}

// GetUser fetches a profile; "me" names the signed-in user.
func (s *HTTPStore) GetUser(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	err := s.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, &p)
	return p, err
}

// SetChannel claims channelID for the signed-in user.
func (s *HTTPStore) SetChannel(ctx context.Context, channelID string) (Profile, error) {
	var p Profile
	err := s.do(ctx, http.MethodPut, "/users/me/channel", map[string]string{"channelId": channelID}, &p)
	return p, err
}

// AddFriend adds the owner of friendChannelID as a friend.
func (s *HTTPStore) AddFriend(ctx context.Context, friendChannelID string) (Profile, error) {
	var p Profile
	err := s.do(ctx, http.MethodPost, "/friends", map[string]string{"friendChannelId": friendChannelID}, &p)
	return p, err
}

// Contacts lists friends and everyone who has messaged the signed-in user.
func (s *HTTPStore) Contacts(ctx context.Context) ([]Profile, error) {
	var out []Profile
	err := s.do(ctx, http.MethodGet, "/contacts", nil, &out)
	return out, err
}

func (s *HTTPStore) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	} else if s.userID != "" {
		req.Header.Set("X-User-ID", s.userID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
