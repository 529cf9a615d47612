package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/heraerp/heraerp-prd-sub016/internal/audit"
	"github.com/heraerp/heraerp-prd-sub016/internal/cache"
	svcerrors "github.com/heraerp/heraerp-prd-sub016/internal/errors"
)

var testSecret = []byte("resolver-test-secret")

func signToken(t *testing.T, subject, orgID, role string) string {
	t.Helper()
	claims := &Claims{
		OrganizationID: orgID,
		Role:           role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

type fakeDirectory struct {
	identity *ActorIdentity
	err      error
	calls    int
}

func (d *fakeDirectory) ResolveActor(ctx context.Context, subject string) (*ActorIdentity, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.identity, nil
}

func twoOrgIdentity() *ActorIdentity {
	return &ActorIdentity{
		AuthSubjectID:   "sub-1",
		InternalActorID: "actor-1",
		Memberships: []Membership{
			{OrganizationID: "org-a", Role: "admin", Active: true},
			{OrganizationID: "org-b", Role: "clerk", Active: true},
			{OrganizationID: "org-old", Role: "owner", Active: false},
		},
	}
}

func newTestResolver(dir Directory) (*Resolver, *cache.Memory) {
	store := cache.NewMemory()
	r := NewResolver(Config{
		JWTSecret: testSecret,
		Cache:     store,
		Directory: dir,
		Audit:     audit.NewLog(50, nil, nil, nil),
		CacheTTL:  300 * time.Second,
	})
	return r, store
}

func TestResolveHappyPath(t *testing.T) {
	dir := &fakeDirectory{identity: twoOrgIdentity()}
	r, _ := newTestResolver(dir)

	actor, err := r.Resolve(context.Background(), signToken(t, "sub-1", "", ""), "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if actor.ActorID != "actor-1" {
		t.Errorf("actor = %q, want actor-1", actor.ActorID)
	}
	// No header, no claim: first active membership wins.
	if actor.OrganizationID != "org-a" {
		t.Errorf("org = %q, want org-a", actor.OrganizationID)
	}
	if actor.Role != "admin" {
		t.Errorf("role = %q, want admin", actor.Role)
	}
	if actor.CacheHit {
		t.Error("first resolution must be a cache miss")
	}
}

func TestResolveCacheHit(t *testing.T) {
	dir := &fakeDirectory{identity: twoOrgIdentity()}
	r, _ := newTestResolver(dir)
	token := signToken(t, "sub-1", "", "")

	if _, err := r.Resolve(context.Background(), token, ""); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	actor, err := r.Resolve(context.Background(), token, "")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if !actor.CacheHit {
		t.Error("second resolution should hit the cache")
	}
	if dir.calls != 1 {
		t.Errorf("directory called %d times, want 1", dir.calls)
	}
}

func TestResolveOrgPrecedence(t *testing.T) {
	dir := &fakeDirectory{identity: twoOrgIdentity()}
	r, _ := newTestResolver(dir)

	// Header beats claim.
	actor, err := r.Resolve(context.Background(), signToken(t, "sub-1", "org-a", ""), "org-b")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if actor.OrganizationID != "org-b" {
		t.Errorf("org = %q, want org-b (header)", actor.OrganizationID)
	}
	if actor.Role != "clerk" {
		t.Errorf("role = %q, want clerk (org-b membership)", actor.Role)
	}

	// Claim beats first membership.
	actor, err = r.Resolve(context.Background(), signToken(t, "sub-1", "org-b", ""), "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if actor.OrganizationID != "org-b" {
		t.Errorf("org = %q, want org-b (claim)", actor.OrganizationID)
	}
}

func TestResolveNonMemberDenied(t *testing.T) {
	dir := &fakeDirectory{identity: twoOrgIdentity()}
	store := cache.NewMemory()
	auditLog := audit.NewLog(50, nil, nil, nil)
	r := NewResolver(Config{JWTSecret: testSecret, Cache: store, Directory: dir, Audit: auditLog})

	_, err := r.Resolve(context.Background(), signToken(t, "sub-1", "", ""), "org-c")
	svcErr := svcerrors.GetServiceError(err)
	if svcErr == nil || svcErr.Code != svcerrors.CodeActorNotMember {
		t.Fatalf("expected actor_not_member, got %v", err)
	}
	if svcErr.HTTPStatus != 403 {
		t.Errorf("status = %d, want 403", svcErr.HTTPStatus)
	}

	events := auditLog.Recent(0)
	if len(events) != 1 || events[0].Type != "membership_denied" || events[0].Severity != audit.SeverityWarn {
		t.Fatalf("expected one warn membership_denied event, got %+v", events)
	}
}

func TestResolveInactiveMembershipDenied(t *testing.T) {
	dir := &fakeDirectory{identity: twoOrgIdentity()}
	r, _ := newTestResolver(dir)

	_, err := r.Resolve(context.Background(), signToken(t, "sub-1", "", ""), "org-old")
	svcErr := svcerrors.GetServiceError(err)
	if svcErr == nil || svcErr.Code != svcerrors.CodeActorNotMember {
		t.Fatalf("inactive membership must be denied, got %v", err)
	}
}

func TestResolveBadTokens(t *testing.T) {
	dir := &fakeDirectory{identity: twoOrgIdentity()}
	r, _ := newTestResolver(dir)

	cases := map[string]string{
		"empty":     "",
		"garbage":   "not-a-jwt",
		"wrong-key": mustSign(t, jwt.SigningMethodHS256, []byte("other-secret")),
	}
	for name, token := range cases {
		_, err := r.Resolve(context.Background(), token, "")
		svcErr := svcerrors.GetServiceError(err)
		if svcErr == nil || svcErr.Code != svcerrors.CodeInvalidToken {
			t.Errorf("%s: expected invalid_token, got %v", name, err)
		}
	}
}

func TestResolveExpiredToken(t *testing.T) {
	dir := &fakeDirectory{identity: twoOrgIdentity()}
	r, _ := newTestResolver(dir)

	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "sub-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := r.Resolve(context.Background(), token, ""); svcerrors.GetServiceError(err) == nil {
		t.Fatal("expired token must be rejected")
	}
}

func TestResolveDirectoryFailureIsFailClosed(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("store unavailable")}
	r, _ := newTestResolver(dir)

	_, err := r.Resolve(context.Background(), signToken(t, "sub-1", "", ""), "")
	svcErr := svcerrors.GetServiceError(err)
	if svcErr == nil || svcErr.HTTPStatus != 401 {
		t.Fatalf("directory failure must fail closed with 401, got %v", err)
	}
}

func TestResolveNoOrganizationContext(t *testing.T) {
	dir := &fakeDirectory{identity: &ActorIdentity{
		AuthSubjectID:   "sub-2",
		InternalActorID: "actor-2",
		Memberships:     []Membership{{OrganizationID: "org-x", Active: false}},
	}}
	r, _ := newTestResolver(dir)

	_, err := r.Resolve(context.Background(), signToken(t, "sub-2", "", ""), "")
	svcErr := svcerrors.GetServiceError(err)
	if svcErr == nil || svcErr.Code != svcerrors.CodeNoOrganizationContext {
		t.Fatalf("expected no_organization_context, got %v", err)
	}
}

func mustSign(t *testing.T, method jwt.SigningMethod, key []byte) string {
	t.Helper()
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "sub-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
