// Package idempotency detects and replays duplicate mutating requests.
// The subsystem fails open when the shared store is unavailable.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/heraerp/heraerp-prd-sub016/internal/cache"
	"github.com/heraerp/heraerp-prd-sub016/internal/logging"
	"github.com/heraerp/heraerp-prd-sub016/internal/metrics"
)

// Record is the stored response for one idempotency key. Once stored it is
// replayed byte-identical for every lookup within the TTL.
type Record struct {
	Status   int               `json:"status"`
	Body     json.RawMessage   `json:"body"`
	Headers  map[string]string `json:"headers,omitempty"`
	StoredAt time.Time         `json:"stored_at"`
}

// clientKeyPattern bounds client-supplied keys: 8-255 chars of a restricted
// alphanumeric/dash/underscore alphabet.
var clientKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,255}$`)

// keyHeaders are the recognized client key headers, in precedence order.
var keyHeaders = []string{"X-Idempotency-Key", "Idempotency-Key", "X-Request-ID"}

// safeMethods carry no idempotency handling at all.
var safeMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// ResolveKey returns the idempotency key for a request: a valid
// client-supplied header key, or a key derived from method, path, body and
// actor for mutating methods. Safe methods yield "". Invalid client keys are
// ignored in favor of derivation.
func ResolveKey(r *http.Request, body []byte, actorID string) (key string, derived bool) {
	if safeMethods[r.Method] {
		return "", false
	}
	for _, header := range keyHeaders {
		if value := r.Header.Get(header); value != "" && clientKeyPattern.MatchString(value) {
			return value, false
		}
	}
	sum := sha256.Sum256([]byte(r.Method + "|" + r.URL.Path + "|" + string(body) + "|" + actorID))
	metrics.RecordDerivedIdempotencyKey()
	return hex.EncodeToString(sum[:]), true
}

// Handler checks for and stores idempotency records in the shared cache.
type Handler struct {
	cache   cache.Client
	logger  *logging.Logger
	ttl     time.Duration
	timeout time.Duration
}

// NewHandler creates a Handler with the given record TTL (default 24h).
func NewHandler(client cache.Client, ttl time.Duration, logger *logging.Logger) *Handler {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Handler{cache: client, logger: logger, ttl: ttl, timeout: 2 * time.Second}
}

// Check looks up the record for (orgID, actorID, key). A store failure is
// treated as "not duplicate": the client has a valid reason to get a real
// response even when the cache is down.
func (h *Handler) Check(ctx context.Context, orgID, actorID, key string) (*Record, bool) {
	if key == "" {
		return nil, false
	}
	opCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	value, err := h.cache.Get(opCtx, storageKey(orgID, actorID, key))
	if err != nil {
		if err != cache.ErrNotFound && h.logger != nil {
			h.logger.WithContext(ctx).WithError(err).Warn("idempotency store unavailable, skipping duplicate check")
		}
		return nil, false
	}

	var record Record
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		if h.logger != nil {
			h.logger.WithContext(ctx).WithError(err).Warn("corrupt idempotency record ignored")
		}
		return nil, false
	}
	metrics.RecordIdempotentReplay()
	return &record, true
}

// Store persists the response for (orgID, actorID, key). Called only after a
// 2xx response; failures are logged and never surfaced, since the client has
// already received its real response. SetNX keeps the first stored record
// authoritative under concurrent duplicates.
func (h *Handler) Store(ctx context.Context, orgID, actorID, key string, record Record) {
	if key == "" {
		return
	}
	if record.StoredAt.IsZero() {
		record.StoredAt = time.Now().UTC()
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		if h.logger != nil {
			h.logger.WithContext(ctx).WithError(err).Warn("idempotency record marshal failed")
		}
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if _, err := h.cache.SetNX(opCtx, storageKey(orgID, actorID, key), string(encoded), h.ttl); err != nil && h.logger != nil {
		h.logger.WithContext(ctx).WithError(err).Warn("idempotency record store failed")
	}
}

func storageKey(orgID, actorID, key string) string {
	return fmt.Sprintf("hera:idempotency:%s:%s:%s", orgID, actorID, key)
}
