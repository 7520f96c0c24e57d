package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tournament-wallet/internal/handler"
	"tournament-wallet/internal/model"
)

const testTTL = 24 * time.Hour

// countingHandler answers with a fixed status and counts invocations.
type countingHandler struct {
	status int
	calls  int
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.calls++
	handler.WriteJSON(w, h.status, map[string]bool{"ok": h.status < 400})
}

func idempotentRequest(method, key string, caller uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, "/api/v1/wallet/recharges", strings.NewReader(`{}`))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	ctx := handler.WithIdentity(req.Context(), handler.Identity{AccountID: caller, Role: model.RoleUser})
	return req.WithContext(ctx)
}

func TestIdempotencyStoresFirstResponse(t *testing.T) {
	db, mock := redismock.NewClientMock()
	next := &countingHandler{status: http.StatusCreated}
	mw := NewIdempotency(db, testTTL).Middleware(next)

	req := idempotentRequest(http.MethodPost, "k-1", uuid.New())
	key := cacheKey(req, "k-1")
	stored, err := storedResponse{
		Status:      http.StatusCreated,
		ContentType: "application/json",
		Body:        []byte("{\"ok\":true}\n"),
	}.encode()
	require.NoError(t, err)

	mock.ExpectGet(key).RedisNil()
	mock.ExpectSetNX(key, pendingMarker, defaultLockTTL).SetVal(true)
	mock.ExpectSet(key, stored, testTTL).SetVal("OK")

	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, next.calls)
	assert.Empty(t, rec.Header().Get(ReplayedHeader))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	db, mock := redismock.NewClientMock()
	next := &countingHandler{status: http.StatusCreated}
	mw := NewIdempotency(db, testTTL).Middleware(next)

	req := idempotentRequest(http.MethodPost, "k-2", uuid.New())
	stored, err := storedResponse{
		Status:      http.StatusCreated,
		ContentType: "application/json",
		Body:        []byte(`{"id":"abc"}`),
	}.encode()
	require.NoError(t, err)
	mock.ExpectGet(cacheKey(req, "k-2")).SetVal(stored)

	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	assert.Equal(t, 0, next.calls)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(ReplayedHeader))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":"abc"}`, rec.Body.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRejectsConcurrentDuplicate(t *testing.T) {
	t.Run("pending marker", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		next := &countingHandler{status: http.StatusCreated}
		req := idempotentRequest(http.MethodPost, "k-3", uuid.New())
		mock.ExpectGet(cacheKey(req, "k-3")).SetVal(pendingMarker)

		rec := httptest.NewRecorder()
		NewIdempotency(db, testTTL).Middleware(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "request_in_progress")
		assert.Equal(t, 0, next.calls)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost the claim", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		next := &countingHandler{status: http.StatusCreated}
		req := idempotentRequest(http.MethodPost, "k-4", uuid.New())
		key := cacheKey(req, "k-4")
		mock.ExpectGet(key).RedisNil()
		mock.ExpectSetNX(key, pendingMarker, defaultLockTTL).SetVal(false)

		rec := httptest.NewRecorder()
		NewIdempotency(db, testTTL).Middleware(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, 0, next.calls)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	next := &countingHandler{status: http.StatusInternalServerError}
	req := idempotentRequest(http.MethodPut, "k-5", uuid.New())
	key := cacheKey(req, "k-5")
	mock.ExpectGet(key).RedisNil()
	mock.ExpectSetNX(key, pendingMarker, defaultLockTTL).SetVal(true)
	mock.ExpectDel(key).SetVal(1)

	rec := httptest.NewRecorder()
	NewIdempotency(db, testTTL).Middleware(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, next.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyFailsOpen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	next := &countingHandler{status: http.StatusCreated}
	req := idempotentRequest(http.MethodPost, "k-6", uuid.New())
	mock.ExpectGet(cacheKey(req, "k-6")).SetErr(errors.New("connection refused"))

	rec := httptest.NewRecorder()
	NewIdempotency(db, testTTL).Middleware(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, next.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyPassThrough(t *testing.T) {
	tests := []struct {
		name   string
		method string
		key    string
	}{
		{"no key", http.MethodPost, ""},
		{"safe method", http.MethodGet, "k-7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := redismock.NewClientMock()
			next := &countingHandler{status: http.StatusOK}

			rec := httptest.NewRecorder()
			NewIdempotency(db, testTTL).Middleware(next).ServeHTTP(rec, idempotentRequest(tt.method, tt.key, uuid.New()))

			assert.Equal(t, 1, next.calls)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestIdempotencyKeysAreScopedToCaller(t *testing.T) {
	a := idempotentRequest(http.MethodPost, "same", uuid.New())
	b := idempotentRequest(http.MethodPost, "same", uuid.New())
	assert.NotEqual(t, cacheKey(a, "same"), cacheKey(b, "same"))
}

func TestIdempotencyRejectsLongKey(t *testing.T) {
	db, mock := redismock.NewClientMock()
	next := &countingHandler{status: http.StatusCreated}

	rec := httptest.NewRecorder()
	NewIdempotency(db, testTTL).Middleware(next).ServeHTTP(rec,
		idempotentRequest(http.MethodPost, strings.Repeat("k", maxKeyLength+1), uuid.New()))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, next.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}
