package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TauNeutrino/kantine-overview/internal/bessa"
	"github.com/TauNeutrino/kantine-overview/internal/flagstore"
	"github.com/TauNeutrino/kantine-overview/internal/menustore"
	"github.com/TauNeutrino/kantine-overview/internal/model"
	"github.com/TauNeutrino/kantine-overview/internal/poll"
	"github.com/TauNeutrino/kantine-overview/internal/sse"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server   *Server
	flags    *flagstore.Store
	registry *sse.Registry
}

// newTestEnv wires a full server against a fake upstream.
func newTestEnv(t *testing.T, upstream http.Handler) *testEnv {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	dir := t.TempDir()
	flags, err := flagstore.Open(filepath.Join(dir, "flags.json"), log)
	require.NoError(t, err)
	menus, err := menustore.Open(filepath.Join(dir, "menus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { menus.Close() })

	if upstream == nil {
		upstream = http.NotFoundHandler()
	}
	fake := httptest.NewServer(upstream)
	t.Cleanup(fake.Close)

	registry := sse.NewRegistry(log)
	orch := poll.NewOrchestrator(flags, registry, time.Minute, log)
	client := bessa.NewClient(bessa.Options{
		BaseURL:       fake.URL,
		GuestToken:    "guest-token",
		ClientVersion: "1.2.3",
		VenueID:       591,
		MenuID:        7,
	}, log)

	return &testEnv{
		server:   New(flags, menus, registry, orch, client, log),
		flags:    flags,
		registry: registry,
	}
}

func (e *testEnv) request(t *testing.T, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func validFlag() map[string]any {
	return map[string]any{
		"id":        "2026-02-10_101",
		"date":      "2026-02-10",
		"articleId": 101,
		"userId":    "u1",
		"cutoff":    time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		"name":      "M1 Herzhaftes",
	}
}

func TestCreateFlag(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.request(t, http.MethodPost, "/api/flags", "", validFlag())
	assert.Equal(t, http.StatusCreated, rec.Code)

	flag, ok := env.flags.Get("2026-02-10_101")
	require.True(t, ok)
	assert.Equal(t, 101, flag.ArticleID)
	assert.NotEmpty(t, flag.CreatedAt)
}

func TestCreateFlagTwiceConflicts(t *testing.T) {
	env := newTestEnv(t, nil)

	assert.Equal(t, http.StatusCreated, env.request(t, http.MethodPost, "/api/flags", "", validFlag()).Code)
	rec := env.request(t, http.MethodPost, "/api/flags", "", validFlag())
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Flag already exists")
	assert.Equal(t, 1, env.flags.Len())
}

func TestCreateFlagMissingFields(t *testing.T) {
	env := newTestEnv(t, nil)

	flag := validFlag()
	delete(flag, "cutoff")
	rec := env.request(t, http.MethodPost, "/api/flags", "", flag)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, env.flags.Len())
}

func TestListFlagsRequiresAuth(t *testing.T) {
	env := newTestEnv(t, nil)
	assert.Equal(t, http.StatusUnauthorized, env.request(t, http.MethodGet, "/api/flags", "", nil).Code)
}

func TestListFlags(t *testing.T) {
	env := newTestEnv(t, nil)
	env.request(t, http.MethodPost, "/api/flags", "", validFlag())

	rec := env.request(t, http.MethodGet, "/api/flags", "Token user-key", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var flags []model.FlaggedItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flags))
	require.Len(t, flags, 1)
	assert.Equal(t, "2026-02-10_101", flags[0].ID)
}

func TestDeleteFlag(t *testing.T) {
	env := newTestEnv(t, nil)
	env.request(t, http.MethodPost, "/api/flags", "", validFlag())

	rec := env.request(t, http.MethodDelete, "/api/flags/2026-02-10_101", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, env.flags.Len())

	rec = env.request(t, http.MethodDelete, "/api/flags/2026-02-10_101", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPollResultBroadcastsToConnectedClients(t *testing.T) {
	env := newTestEnv(t, nil)
	env.request(t, http.MethodPost, "/api/flags", "", validFlag())
	client := env.registry.Register("u1")

	rec := env.request(t, http.MethodPost, "/api/poll-result", "",
		map[string]any{"flagId": "2026-02-10_101", "isAvailable": true})
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case msg := <-client.Messages():
		assert.Contains(t, string(msg), "event: item_update\n")
		assert.Contains(t, string(msg), `"flagId":"2026-02-10_101"`)
		assert.Contains(t, string(msg), `"status":"available"`)
	default:
		t.Fatal("expected an item_update broadcast")
	}

	// The flag stays until its cutoff passes or the user removes it.
	assert.Equal(t, 1, env.flags.Len())
}

func TestPollResultMissingFlagID(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.request(t, http.MethodPost, "/api/poll-result", "", map[string]any{"isAvailable": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPollResultForStaleFlagIsAccepted(t *testing.T) {
	env := newTestEnv(t, nil)
	client := env.registry.Register("u1")

	rec := env.request(t, http.MethodPost, "/api/poll-result", "",
		map[string]any{"flagId": "2026-02-99_999", "isAvailable": true})
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case msg := <-client.Messages():
		t.Fatalf("stale result must not broadcast, got %s", msg)
	default:
	}
}

func TestEventsStreamSendsConnected(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?userId=u1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	event, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", event)
	data, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(data, `data: {"clientId":"`), data)
}

func TestCheckItemProxiesUpstream(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/venues/591/menu/7/2026-02-10/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token user-key", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"results": [{"name": "Menüs", "items": [
			{"id": 1, "article": 101, "name": "M1", "available_amount": 2, "amount_tracking": true}
		]}]}`)
	})
	env := newTestEnv(t, mux)

	rec := env.request(t, http.MethodPost, "/api/check-item", "Token user-key",
		map[string]any{"date": "2026-02-10", "articleId": 101})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"available": true}`, rec.Body.String())
}

func TestLoginPassthrough(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"non_field_errors": []string{"Bad credentials"}})
	})
	env := newTestEnv(t, mux)

	rec := env.request(t, http.MethodPost, "/api/login", "",
		map[string]string{"employeeId": "4711", "password": "wrong"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Bad credentials")

	rec = env.request(t, http.MethodPost, "/api/login", "", map[string]string{"employeeId": "4711"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "required")
}

func TestMenusEmptyCache(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.request(t, http.MethodGet, "/api/menus", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var menus model.MenuDatabase
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &menus))
	assert.Empty(t, menus.Weeks)
}

func TestOrderRequiresAuthAndFields(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.request(t, http.MethodPost, "/api/order", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/order", "Token user-key",
		map[string]any{"date": "2026-02-10", "articleId": 101})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
