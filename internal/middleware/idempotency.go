package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/roomlink-settlements/internal/auth"
	"github.com/josh-kwaku/roomlink-settlements/internal/handler"
	"github.com/josh-kwaku/roomlink-settlements/internal/logging"
	"github.com/josh-kwaku/roomlink-settlements/internal/repository"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type idempotencyRepository interface {
	Reserve(ctx context.Context, key string, userID uuid.UUID, requestHash string, ttl time.Duration) (*repository.StoredResponse, error)
	Complete(ctx context.Context, key string, userID uuid.UUID, statusCode int, body []byte) error
	Release(ctx context.Context, key string, userID uuid.UUID) error
}

// Idempotency replays the stored response for a repeated Idempotency-Key from
// the same user. The key is reserved before the handler runs, so a duplicate
// arriving while the first is still running is refused rather than executed.
// Internal errors release the key so the client can retry; gateway errors are
// stored, since the money call may already have happened.
func Idempotency(repo idempotencyRepository, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			log := logging.FromContext(r.Context())

			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				handler.RespondAppError(w, handler.ErrMissingIdempotencyKey, nil)
				return
			}

			userID, ok := auth.UserIDFromContext(r.Context())
			if !ok {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				handler.RespondAppError(w, handler.ErrInvalidRequest, nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			reqHash := computeHash(r.Method, r.URL.Path, body)

			held, err := repo.Reserve(r.Context(), key, userID, reqHash, ttl)
			if err != nil {
				log.Error("idempotency reservation failed", "error", err, "idempotency_key", key)
				handler.RespondAppError(w, handler.ErrInternalError, nil)
				return
			}

			if held != nil {
				switch {
				case held.RequestHash != reqHash:
					log.Warn("idempotency key reused with a different request", "idempotency_key", key)
					handler.RespondAppError(w, handler.ErrIdempotencyConflict, nil)
				case !held.Completed():
					log.Warn("idempotency key still in flight", "idempotency_key", key)
					handler.RespondAppError(w, handler.ErrRequestInProgress, nil)
				default:
					log.Info("replaying idempotent response", "idempotency_key", key, "status", held.StatusCode)
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("X-Idempotent-Replayed", "true")
					w.WriteHeader(held.StatusCode)
					if _, err := w.Write(held.ResponseBody); err != nil {
						log.Error("failed to write idempotent replay", "error", err, "idempotency_key", key)
					}
				}
				return
			}

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			// Settled after the response is written; a panic or an internal error
			// frees the key again.
			finishCtx := context.WithoutCancel(r.Context())
			release := true
			defer func() {
				if !release {
					return
				}
				if err := repo.Release(finishCtx, key, userID); err != nil {
					log.Error("idempotency release failed", "error", err, "idempotency_key", key)
				}
			}()

			next.ServeHTTP(rec, r)

			if rec.statusCode == http.StatusInternalServerError {
				return
			}
			release = false
			if err := repo.Complete(finishCtx, key, userID, rec.statusCode, rec.body.Bytes()); err != nil {
				log.Error("idempotency store failed, key stays reserved until expiry", "error", err, "idempotency_key", key)
			}
		})
	}
}

func computeHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write(body)
	return fmt.Sprintf("%x", h.Sum(nil))
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
