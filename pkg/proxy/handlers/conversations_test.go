package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mercator-hq/switchboard/pkg/conversation"
	"mercator-hq/switchboard/pkg/proxy/types"
)

type fakeConversations struct {
	entries map[string]conversation.Entry
	err     error
}

func (f *fakeConversations) Get(clientID string) (conversation.Entry, bool) {
	e, ok := f.entries[clientID]
	return e, ok
}

func (f *fakeConversations) Invalidate(_ context.Context, clientID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.entries[clientID]
	delete(f.entries, clientID)
	return ok, nil
}

func newConversationMux(c Conversations) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/v1/conversations/{user}", NewConversationHandler(c, quietLogger()))
	return mux
}

func TestConversationHandler(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := &fakeConversations{entries: map[string]conversation.Entry{
		"alice": {ClientID: "alice", ConversationID: "conv-a", CreatedAt: created, LastAccess: created, AccessCount: 3},
	}}
	mux := newConversationMux(store)

	t.Run("get cached", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/conversations/alice", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var resp types.ConversationResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.ConversationID != "conv-a" || resp.AccessCount != 3 || !resp.CreatedAt.Equal(created) {
			t.Errorf("response = %+v", resp)
		}
	})

	t.Run("get unknown", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/conversations/bob", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d", w.Code)
		}
	})

	t.Run("delete", func(t *testing.T) {
		for _, want := range []bool{true, false} {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/conversations/alice", nil))
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			var resp types.ForgetResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Forgotten != want {
				t.Errorf("forgotten = %v, want %v", resp.Forgotten, want)
			}
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/conversations/alice", nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d", w.Code)
		}
	})
}

func TestConversationHandler_InvalidateFailure(t *testing.T) {
	mux := newConversationMux(&fakeConversations{entries: map[string]conversation.Entry{}, err: errors.New("disk full")})
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/conversations/alice", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", w.Code)
	}
}
