package gateway

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"

	"github.com/heraerp/heraerp-prd-sub016/internal/errors"
	"github.com/heraerp/heraerp-prd-sub016/internal/ratelimit"
)

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	s.process(w, r, func([]byte) (route, error) {
		return routeFor(OpEntities, "")
	})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	s.process(w, r, func([]byte) (route, error) {
		return routeFor(OpTransactions, "")
	})
}

func (s *Server) handleMicroApps(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["subresource"]
	s.process(w, r, func([]byte) (route, error) {
		sub, err := ParseSubOp(raw)
		if err != nil {
			return route{}, err
		}
		return routeFor(OpMicroApps, sub)
	})
}

// handleCommand is the multiplexed entry point: the operation is selected by
// the body's op/sub_op discriminators instead of the path.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	s.process(w, r, func(body []byte) (route, error) {
		parsed := gjson.ParseBytes(body)
		op, err := ParseOp(parsed.Get("op").String())
		if err != nil {
			return route{}, err
		}
		var sub SubOp
		if rawSub := parsed.Get("sub_op").String(); rawSub != "" {
			if sub, err = ParseSubOp(rawSub); err != nil {
				return route{}, err
			}
		}
		selected, err := routeFor(op, sub)
		if err != nil {
			return route{}, err
		}
		selected.endpoint = ratelimit.EndpointCommand
		return selected, nil
	})
}

// handleAudit returns the recent audit ring. It requires a resolved actor
// but runs no further pipeline stages.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if _, err := s.resolveIdentity(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": s.deps.Audit.Recent(200),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, errors.NotFound())
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, errors.MethodNotAllowed())
}
