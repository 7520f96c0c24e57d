package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"tournament-wallet/internal/handler"
	"tournament-wallet/internal/pkg/apperr"
)

// Idempotency headers.
const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "Idempotent-Replayed"
)

const (
	pendingMarker  = "pending"
	maxKeyLength   = 128
	defaultLockTTL = time.Minute
)

// Idempotency errors.
var (
	ErrRequestInProgress = apperr.Conflict("request_in_progress", "a request with this idempotency key is still being processed")
	ErrInvalidKey        = apperr.Validation("invalid_idempotency_key", "idempotency key must be at most 128 characters")
)

// storedResponse is the cached outcome of a completed request.
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body"`
}

func (s storedResponse) encode() (string, error) {
	b, err := json.Marshal(s)
	return string(b), err
}

// Idempotency replays the stored response of a POST or PUT that carries an
// already-seen Idempotency-Key. Keys are scoped to the caller, method and
// path. Responses with a 5xx status are not stored so the client may retry.
// Redis failures fail open.
type Idempotency struct {
	rdb     redis.Cmdable
	ttl     time.Duration
	lockTTL time.Duration
}

// NewIdempotency creates the middleware. ttl bounds how long a response is
// replayable.
func NewIdempotency(rdb redis.Cmdable, ttl time.Duration) *Idempotency {
	return &Idempotency{rdb: rdb, ttl: ttl, lockTTL: defaultLockTTL}
}

func cacheKey(r *http.Request, key string) string {
	caller := "anonymous"
	if id, ok := handler.IdentityFrom(r.Context()); ok {
		caller = id.AccountID.String()
	}
	return "idempotency:" + caller + ":" + r.Method + ":" + r.URL.Path + ":" + key
}

// Middleware implements the replay protocol.
func (i *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
		if key == "" || (r.Method != http.MethodPost && r.Method != http.MethodPut) {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxKeyLength {
			handler.WriteError(w, r, ErrInvalidKey)
			return
		}

		ctx := r.Context()
		ck := cacheKey(r, key)

		raw, err := i.rdb.Get(ctx, ck).Result()
		switch {
		case err == nil:
			if raw == pendingMarker {
				handler.WriteError(w, r, ErrRequestInProgress)
				return
			}
			var stored storedResponse
			if err := json.Unmarshal([]byte(raw), &stored); err == nil {
				replay(w, stored)
				return
			}
			log.Warn().Str("key", ck).Msg("Discarding unreadable idempotency record")
		case errors.Is(err, redis.Nil):
		default:
			log.Warn().Err(err).Msg("Idempotency cache unavailable")
			next.ServeHTTP(w, r)
			return
		}

		claimed, err := i.rdb.SetNX(ctx, ck, pendingMarker, i.lockTTL).Result()
		if err != nil {
			log.Warn().Err(err).Msg("Idempotency cache unavailable")
			next.ServeHTTP(w, r)
			return
		}
		if !claimed {
			handler.WriteError(w, r, ErrRequestInProgress)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		var body bytes.Buffer
		ww.Tee(&body)
		next.ServeHTTP(ww, r)

		// The outcome must be recorded even if the client went away.
		cctx := context.WithoutCancel(ctx)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if status >= http.StatusInternalServerError {
			if err := i.rdb.Del(cctx, ck).Err(); err != nil {
				log.Warn().Err(err).Str("key", ck).Msg("Failed to release idempotency key")
			}
			return
		}

		value, err := storedResponse{
			Status:      status,
			ContentType: ww.Header().Get("Content-Type"),
			Body:        body.Bytes(),
		}.encode()
		if err == nil {
			err = i.rdb.Set(cctx, ck, value, i.ttl).Err()
		}
		if err != nil {
			log.Warn().Err(err).Str("key", ck).Msg("Failed to store idempotent response")
		}
	})
}

func replay(w http.ResponseWriter, s storedResponse) {
	if s.ContentType != "" {
		w.Header().Set("Content-Type", s.ContentType)
	}
	w.Header().Set(ReplayedHeader, "true")
	w.WriteHeader(s.Status)
	_, _ = w.Write(s.Body)
}
