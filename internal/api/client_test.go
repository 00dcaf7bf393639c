package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/faasify-official/websocket-server/internal/backoff"
)

func testExec() *backoff.Client {
	return backoff.NewClient(backoff.Config{
		MaxAttempts:    2,
		BaseDelay:      time.Millisecond,
		MaxDelay:       time.Millisecond,
		AttemptTimeout: time.Second,
	})
}

func TestFetchProfileCache(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(Profile{ID: "u1", Name: "Alice", Role: "member"})
	}))
	defer server.Close()

	client := NewClient(server.URL, server.URL, testExec(), time.Minute)

	for i := 0; i < 3; i++ {
		profile, err := client.FetchProfile(context.Background(), "tok-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if profile.ID != "u1" || profile.Name != "Alice" {
			t.Errorf("unexpected profile %+v", profile)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single upstream call, got %d", calls.Load())
	}
}

func TestFetchProfileMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"role":"member"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, server.URL, testExec(), time.Minute)
	_, err := client.FetchProfile(context.Background(), "tok-1")
	if !errors.Is(err, ErrMalformedProfile) {
		t.Errorf("expected ErrMalformedProfile, got %v", err)
	}
}

func TestListChatsSkipsRecordsWithoutID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chats" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"c1","name":"general"},{"name":"orphan"},{"id":"c2"}]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, server.URL, testExec(), time.Minute)
	chats, err := client.ListChats(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chats) != 2 || chats[0].ID != "c1" || chats[1].ID != "c2" {
		t.Errorf("unexpected chats %+v", chats)
	}
}

func TestFetchChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chats/c1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"id":"c1","name":"general"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, server.URL, testExec(), time.Minute)
	chat, err := client.FetchChat(context.Background(), "tok-1", "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chat.Name != "general" {
		t.Errorf("unexpected chat %+v", chat)
	}

	if _, err := client.FetchChat(context.Background(), "tok-1", "missing"); err == nil {
		t.Error("expected error for unknown chat")
	}
}

func TestCreateMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chats/c1/messages" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		_, _ = w.Write([]byte(`{"id":"m1","chatId":"c1","senderId":"u1","senderName":"Alice","content":"` + in["content"] + `","createdAt":"2026-01-01T00:00:00Z"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, server.URL, testExec(), time.Minute)
	message, err := client.CreateMessage(context.Background(), "tok-1", "c1", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if message.ID != "m1" || message.Content != "hello" {
		t.Errorf("unexpected message %+v", message)
	}
}

func TestMarkReadClientFaultSurfacesImmediately(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, server.URL, testExec(), time.Minute)
	err := client.MarkRead(context.Background(), "tok-1", "c1", "m1")

	var statusErr *backoff.StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusNotFound {
		t.Fatalf("expected StatusError 404, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt for a client fault, got %d", calls.Load())
	}
}
