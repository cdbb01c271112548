package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ROMARIC12/chat-sync/internal/models"
)

func newTestClient(base string) *HistoryClient {
	return NewHistoryClient(HistoryConfig{
		BaseURL:         base,
		Token:           "tok123",
		SelfID:          "me",
		Timeout:         2 * time.Second,
		RetryMaxElapsed: 100 * time.Millisecond,
	})
}

func TestFetchHistoryDirect(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[{"_id":"m1","from":"alice","to":"me","message":"hi","timestamp":"10:00:00"}]`))
	}))
	defer srv.Close()

	msgs, err := newTestClient(srv.URL).FetchHistory(context.Background(), models.DirectKey("alice"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotPath != "/chatroom/history" {
		t.Errorf("path: got %q", gotPath)
	}
	if gotQuery != "user1=me&user2=alice" {
		t.Errorf("query: got %q", gotQuery)
	}
	if gotAuth != "Bearer tok123" {
		t.Errorf("auth header: got %q", gotAuth)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" || msgs[0].Body != "hi" {
		t.Errorf("unexpected messages: %+v", msgs)
	}
}

func TestFetchHistoryRoom(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).FetchHistory(context.Background(), models.RoomKey("r9")); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotPath != "/chatroom/group-history/r9" {
		t.Errorf("path: got %q", gotPath)
	}
}

func TestFetchHistoryClientErrorNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).FetchHistory(context.Background(), models.DirectKey("alice")); err == nil {
		t.Fatal("expected error on 404")
	}
	if calls != 1 {
		t.Errorf("4xx should not be retried, got %d calls", calls)
	}
}

func TestFetchHistoryRetriesServerError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	msgs, err := newTestClient(srv.URL).FetchHistory(context.Background(), models.DirectKey("alice"))
	if err != nil {
		t.Fatalf("fetch after retry: %v", err)
	}
	if calls < 2 {
		t.Errorf("5xx should be retried, got %d calls", calls)
	}
	if len(msgs) != 0 {
		t.Errorf("unexpected messages: %+v", msgs)
	}
}

func TestDeleteAndSaveMessage(t *testing.T) {
	type call struct{ method, path string }
	var calls []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, call{r.Method, r.URL.Path})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if err := c.DeleteMessage(context.Background(), "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := c.SaveMessage(context.Background(), "m2"); err != nil {
		t.Fatalf("save: %v", err)
	}
	want := []call{
		{http.MethodDelete, "/chatroom/message/m1"},
		{http.MethodPatch, "/chatroom/message/m2/save"},
	}
	if len(calls) != len(want) {
		t.Fatalf("got %d calls, want %d", len(calls), len(want))
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d: got %+v, want %+v", i, calls[i], want[i])
		}
	}
}

func TestOnlineUsers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/online" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		w.Write([]byte(`["alice","bob"]`))
	}))
	defer srv.Close()

	ids, err := newTestClient(srv.URL).OnlineUsers(context.Background())
	if err != nil {
		t.Fatalf("online users: %v", err)
	}
	if len(ids) != 2 || ids[0] != "alice" || ids[1] != "bob" {
		t.Errorf("unexpected roster: %v", ids)
	}
}
