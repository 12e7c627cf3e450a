package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/roomlink-settlements/internal/auth"
	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
	"github.com/josh-kwaku/roomlink-settlements/internal/repository"
)

type memoryIdempotencyRepo struct {
	mu      sync.Mutex
	entries map[string]*repository.StoredResponse
}

func newMemoryRepo() *memoryIdempotencyRepo {
	return &memoryIdempotencyRepo{entries: map[string]*repository.StoredResponse{}}
}

func (m *memoryIdempotencyRepo) Reserve(_ context.Context, key string, userID uuid.UUID, hash string, ttl time.Duration) (*repository.StoredResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.entries[key+userID.String()]; ok {
		cp := *held
		return &cp, nil
	}
	now := time.Now()
	m.entries[key+userID.String()] = &repository.StoredResponse{Key: key, UserID: userID, RequestHash: hash, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	return nil, nil
}

func (m *memoryIdempotencyRepo) Complete(_ context.Context, key string, userID uuid.UUID, status int, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[key+userID.String()]
	now := time.Now()
	e.StatusCode, e.ResponseBody, e.CompletedAt = status, body, &now
	return nil
}

func (m *memoryIdempotencyRepo) Release(_ context.Context, key string, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key+userID.String()]; ok && !e.Completed() {
		delete(m.entries, key+userID.String())
	}
	return nil
}

func idempotentRequest(userID uuid.UUID, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/settlements/abc/payout", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	ctx := auth.ContextWithClaims(req.Context(), &auth.Claims{UserID: userID, Role: domain.RoleAdmin})
	return req.WithContext(ctx)
}

func TestIdempotency(t *testing.T) {
	repo := newMemoryRepo()
	var calls atomic.Int32
	status := http.StatusOK
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	mw := Idempotency(repo, time.Hour)(next)
	user := uuid.New()

	t.Run("missing key", func(t *testing.T) {
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, idempotentRequest(user, "", `{}`))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Zero(t, calls.Load())
	})

	t.Run("replays same request", func(t *testing.T) {
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, idempotentRequest(user, "k-1", `{}`))
		require.Equal(t, http.StatusOK, rr.Code)

		rr = httptest.NewRecorder()
		mw.ServeHTTP(rr, idempotentRequest(user, "k-1", `{}`))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "true", rr.Header().Get("X-Idempotent-Replayed"))
		assert.JSONEq(t, `{"success":true}`, rr.Body.String())
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("rejects reuse with a different body", func(t *testing.T) {
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, idempotentRequest(user, "k-1", `{"other":true}`))
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("keys are per user", func(t *testing.T) {
		before := calls.Load()
		rr := httptest.NewRecorder()
		mw.ServeHTTP(rr, idempotentRequest(uuid.New(), "k-1", `{}`))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, before+1, calls.Load())
	})

	t.Run("internal errors are not stored", func(t *testing.T) {
		status = http.StatusInternalServerError
		before := calls.Load()
		for range 2 {
			mw.ServeHTTP(httptest.NewRecorder(), idempotentRequest(user, "k-500", `{}`))
		}
		assert.Equal(t, before+2, calls.Load())
	})

	t.Run("gateway timeouts are stored", func(t *testing.T) {
		status = http.StatusGatewayTimeout
		before := calls.Load()
		for range 2 {
			mw.ServeHTTP(httptest.NewRecorder(), idempotentRequest(user, "k-504", `{}`))
		}
		assert.Equal(t, before+1, calls.Load())
	})
}

func TestIdempotency_DuplicateWhileRunning(t *testing.T) {
	repo := newMemoryRepo()
	entered := make(chan struct{})
	finish := make(chan struct{})
	var calls atomic.Int32
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		close(entered)
		<-finish
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	mw := Idempotency(repo, time.Hour)(next)
	user := uuid.New()

	first := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		mw.ServeHTTP(first, idempotentRequest(user, "payout-1", `{}`))
	}()
	<-entered

	dup := httptest.NewRecorder()
	mw.ServeHTTP(dup, idempotentRequest(user, "payout-1", `{}`))
	assert.Equal(t, http.StatusConflict, dup.Code)
	assert.Contains(t, dup.Body.String(), "REQUEST_IN_PROGRESS")

	close(finish)
	<-done
	assert.Equal(t, http.StatusOK, first.Code)

	replay := httptest.NewRecorder()
	mw.ServeHTTP(replay, idempotentRequest(user, "payout-1", `{}`))
	assert.Equal(t, http.StatusOK, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("X-Idempotent-Replayed"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestIdempotency_PanicReleasesKey(t *testing.T) {
	repo := newMemoryRepo()
	var calls atomic.Int32
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		w.WriteHeader(http.StatusOK)
	})
	mw := Recovery(Idempotency(repo, time.Hour)(next))
	user := uuid.New()

	rr := httptest.NewRecorder()
	mw.ServeHTTP(rr, idempotentRequest(user, "k-panic", `{}`))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	rr = httptest.NewRecorder()
	mw.ServeHTTP(rr, idempotentRequest(user, "k-panic", `{}`))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int32(2), calls.Load())
}
