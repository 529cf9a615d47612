package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/heraerp/heraerp-prd-sub016/internal/errors"
	"github.com/heraerp/heraerp-prd-sub016/internal/logging"
)

// envelope is the uniform success response shape.
type envelope struct {
	RequestID string          `json:"rid"`
	Data      json.RawMessage `json:"data"`
	Actor     string          `json:"actor"`
	Org       string          `json:"org"`
}

// errorEnvelope is the uniform error response shape.
type errorEnvelope struct {
	Error     string                 `json:"error"`
	RequestID string                 `json:"rid"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := errors.GetServiceError(err)
	if svcErr == nil {
		svcErr = errors.Internal("unhandled error", err)
	}
	if svcErr.HTTPStatus >= http.StatusInternalServerError {
		s.deps.Logger.WithContext(r.Context()).WithError(err).Error("request failed")
	}
	writeJSON(w, svcErr.HTTPStatus, errorEnvelope{
		Error:     string(svcErr.Code),
		RequestID: logging.GetRequestID(r.Context()),
		Detail:    svcErr.Details,
	})
}
