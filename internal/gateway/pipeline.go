package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/heraerp/heraerp-prd-sub016/internal/backend"
	"github.com/heraerp/heraerp-prd-sub016/internal/errors"
	"github.com/heraerp/heraerp-prd-sub016/internal/idempotency"
	"github.com/heraerp/heraerp-prd-sub016/internal/identity"
	"github.com/heraerp/heraerp-prd-sub016/internal/logging"
)

// process runs the mutating-request state machine:
//
//	RECEIVED -> IDENTITY_RESOLVED -> GUARDRAILS_PASSED -> RATE_LIMIT_ADMITTED
//	  -> IDEMPOTENCY_CHECKED -> DISPATCHED -> RESPONDED(+stored)
//
// Any stage may terminate early with its error response; a duplicate at the
// idempotency stage short-circuits straight to the stored response.
// chooseRoute selects the procedure after the body is parsed, so the command
// endpoint can dispatch on its discriminator.
func (s *Server) process(w http.ResponseWriter, r *http.Request, chooseRoute func(body []byte) (route, error)) {
	actor, err := s.resolveIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx := logging.WithActorID(r.Context(), actor.ActorID)
	ctx = logging.WithOrgID(ctx, actor.OrganizationID)
	r = r.WithContext(ctx)

	body, err := readBody(r, s.deps.MaxBodyBytes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	selected, err := chooseRoute(body)
	if err != nil {
		s.writeError(w, r, errors.BadRequest(err.Error()))
		return
	}

	if violation := s.deps.Guardrails.Validate(ctx, actor.OrganizationID, body, selected.requireSmartCode); violation != nil {
		s.writeError(w, r, errors.Guardrail(string(violation.Reason)))
		return
	}

	limit := s.deps.Limiter.Check(ctx, actor.ActorID, actor.OrganizationID, selected.endpoint, actor.Role)
	limit.SetHeaders(w)
	if !limit.Allowed {
		s.writeError(w, r, errors.RateLimitExceeded(limit.Limit, limit.Reset.Format(time.RFC3339)))
		return
	}

	key, _ := idempotency.ResolveKey(r, body, actor.ActorID)
	if record, found := s.deps.Idempotency.Check(ctx, actor.OrganizationID, actor.ActorID, key); found {
		s.replay(w, record)
		return
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, s.deps.DispatchTimeout)
	defer cancel()

	result, err := s.deps.Invoker.Invoke(dispatchCtx, selected.proc, stampPayload(body, actor))
	if err != nil {
		var backendErr *backend.Error
		if stderrors.As(err, &backendErr) {
			s.writeError(w, r, errors.Backend(backendErr.Message))
			return
		}
		s.writeError(w, r, errors.Internal("backend dispatch failed", err))
		return
	}

	response := envelope{
		RequestID: logging.GetRequestID(ctx),
		Data:      result,
		Actor:     actor.ActorID,
		Org:       actor.OrganizationID,
	}
	encoded, err := json.Marshal(response)
	if err != nil {
		s.writeError(w, r, errors.Internal("encode response", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(encoded)

	// Stored only after a successful response; replays return these bytes
	// verbatim.
	s.deps.Idempotency.Store(ctx, actor.OrganizationID, actor.ActorID, key, idempotency.Record{
		Status: http.StatusOK,
		Body:   encoded,
	})
}

// resolveIdentity extracts the bearer credential and establishes the
// actor/org context. Identity failures are fail-closed.
func (s *Server) resolveIdentity(r *http.Request) (*identity.ResolvedActor, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, errors.InvalidToken(nil)
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "malformed authorization header")
	}
	return s.deps.Resolver.Resolve(r.Context(), parts[1], r.Header.Get("X-Organization-Id"))
}

// replay writes a stored idempotency record verbatim, marked as a replay.
func (s *Server) replay(w http.ResponseWriter, record *idempotency.Record) {
	for name, value := range record.Headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotency-Replay", "true")
	w.Header().Set("X-Original-Timestamp", record.StoredAt.Format(time.RFC3339))
	w.WriteHeader(record.Status)
	_, _ = w.Write(record.Body)
}

func readBody(r *http.Request, maxBytes int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, errors.BadRequest("unreadable request body")
	}
	if int64(len(body)) > maxBytes {
		return nil, errors.BadRequest("request body too large")
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return nil, errors.BadRequest("request body must be a JSON object")
	}
	return body, nil
}

// stampPayload assembles the procedure argument. Actor and org always come
// from the resolved context, never from client-supplied fields.
func stampPayload(body []byte, actor *identity.ResolvedActor) json.RawMessage {
	payload, err := json.Marshal(map[string]interface{}{
		"organization_id": actor.OrganizationID,
		"actor_id":        actor.ActorID,
		"payload":         json.RawMessage(body),
	})
	if err != nil {
		return body
	}
	return payload
}
