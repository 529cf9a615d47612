// Package identity resolves bearer credentials to an internal actor and
// organization context.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/heraerp/heraerp-prd-sub016/internal/audit"
	"github.com/heraerp/heraerp-prd-sub016/internal/cache"
	"github.com/heraerp/heraerp-prd-sub016/internal/errors"
	"github.com/heraerp/heraerp-prd-sub016/internal/logging"
	"github.com/heraerp/heraerp-prd-sub016/internal/metrics"
)

// Membership grants an actor a role inside one organization.
type Membership struct {
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
	Active         bool   `json:"active"`
}

// ActorIdentity is the cached resolution of one credential subject. It is
// immutable for its cache lifetime and expires only by TTL.
type ActorIdentity struct {
	AuthSubjectID   string       `json:"auth_subject_id"`
	InternalActorID string       `json:"internal_actor_id"`
	Memberships     []Membership `json:"memberships"`
}

// ResolvedActor is the per-request outcome of identity resolution.
type ResolvedActor struct {
	ActorID        string
	OrganizationID string
	Role           string
	CacheHit       bool
}

// Claims are the JWT claims the gateway understands.
type Claims struct {
	OrganizationID string `json:"organization_id,omitempty"`
	Role           string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Directory resolves a credential subject to an actor identity via the
// backing identity-resolution procedure.
type Directory interface {
	ResolveActor(ctx context.Context, authSubjectID string) (*ActorIdentity, error)
}

// Config configures a Resolver.
type Config struct {
	JWTSecret []byte
	Cache     cache.Client
	Directory Directory
	Audit     *audit.Log
	Logger    *logging.Logger
	CacheTTL  time.Duration // identity cache TTL, default 300s
	Timeout   time.Duration // bound on cache and directory calls, default 5s
}

// Resolver validates credentials and establishes the actor/org context.
// Identity and membership failures are fail-closed.
type Resolver struct {
	secret    []byte
	cache     cache.Client
	directory Directory
	audit     *audit.Log
	logger    *logging.Logger
	ttl       time.Duration
	timeout   time.Duration
}

// NewResolver creates a resolver from cfg.
func NewResolver(cfg Config) *Resolver {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 300 * time.Second
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Resolver{
		secret:    cfg.JWTSecret,
		cache:     cfg.Cache,
		directory: cfg.Directory,
		audit:     cfg.Audit,
		logger:    cfg.Logger,
		ttl:       ttl,
		timeout:   timeout,
	}
}

// Resolve validates the bearer token, resolves the actor identity (cache
// first, directory on miss) and establishes the organization context.
// Precedence for the organization: explicit header > token claim > first
// active membership.
func (r *Resolver) Resolve(ctx context.Context, token, orgHeader string) (*ResolvedActor, error) {
	if token == "" {
		return nil, errors.InvalidToken(nil)
	}

	claims, err := r.validateToken(token)
	if err != nil {
		return nil, err
	}
	subject := claims.Subject
	if subject == "" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "missing subject")
	}

	start := time.Now()
	ident, cacheHit, err := r.lookupIdentity(ctx, subject)
	if err != nil {
		return nil, err
	}
	metrics.RecordIdentityResolution(cacheHit, time.Since(start))

	orgID := orgHeader
	if orgID == "" {
		orgID = claims.OrganizationID
	}
	if orgID == "" {
		orgID = firstActiveOrg(ident.Memberships)
	}
	if orgID == "" {
		return nil, errors.NoOrganizationContext()
	}

	membership, ok := activeMembership(ident.Memberships, orgID)
	if !ok {
		if r.audit != nil {
			r.audit.Record(ctx, audit.SeverityWarn, "membership_denied", map[string]interface{}{
				"actor_id":      ident.InternalActorID,
				"attempted_org": orgID,
				"member_orgs":   membershipOrgIDs(ident.Memberships),
			})
		}
		return nil, errors.NotMember(orgID)
	}

	role := membership.Role
	if role == "" {
		role = claims.Role
	}

	return &ResolvedActor{
		ActorID:        ident.InternalActorID,
		OrganizationID: orgID,
		Role:           role,
		CacheHit:       cacheHit,
	}, nil
}

func (r *Resolver) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.InvalidToken(nil)
	}
	return claims, nil
}

func (r *Resolver) lookupIdentity(ctx context.Context, subject string) (*ActorIdentity, bool, error) {
	key := cacheKey(subject)

	cacheCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if cached, err := r.cache.Get(cacheCtx, key); err == nil {
		var ident ActorIdentity
		if jsonErr := json.Unmarshal([]byte(cached), &ident); jsonErr == nil {
			return &ident, true, nil
		}
		// Corrupt cache entry; fall through to the directory.
	} else if err != cache.ErrNotFound && r.logger != nil {
		r.logger.WithContext(ctx).WithError(err).Warn("identity cache read failed")
	}

	dirCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ident, err := r.directory.ResolveActor(dirCtx, subject)
	if err != nil {
		// Identity resolution is fail-closed: an unreachable directory is an
		// auth failure, never a bypass.
		return nil, false, errors.InvalidToken(err).WithDetails("reason", "identity resolution failed")
	}

	if encoded, jsonErr := json.Marshal(ident); jsonErr == nil {
		if setErr := r.cache.Set(cacheCtx, key, string(encoded), r.ttl); setErr != nil && r.logger != nil {
			r.logger.WithContext(ctx).WithError(setErr).Warn("identity cache population failed")
		}
	}

	return ident, false, nil
}

func cacheKey(subject string) string {
	return "hera:identity:" + subject
}

func firstActiveOrg(memberships []Membership) string {
	for _, m := range memberships {
		if m.Active {
			return m.OrganizationID
		}
	}
	return ""
}

func activeMembership(memberships []Membership, orgID string) (Membership, bool) {
	for _, m := range memberships {
		if m.Active && m.OrganizationID == orgID {
			return m, true
		}
	}
	return Membership{}, false
}

func membershipOrgIDs(memberships []Membership) []string {
	ids := make([]string, 0, len(memberships))
	for _, m := range memberships {
		if m.Active {
			ids = append(ids, m.OrganizationID)
		}
	}
	return ids
}
