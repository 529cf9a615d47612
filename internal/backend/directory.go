package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/heraerp/heraerp-prd-sub016/internal/identity"
)

// Directory adapts the identity-resolution procedure to the resolver's
// Directory interface.
type Directory struct {
	invoker Invoker
}

// NewDirectory creates a Directory over the given invoker.
func NewDirectory(invoker Invoker) *Directory {
	return &Directory{invoker: invoker}
}

// ResolveActor asks the backend to resolve a credential subject to an actor
// identity with its memberships.
func (d *Directory) ResolveActor(ctx context.Context, authSubjectID string) (*identity.ActorIdentity, error) {
	payload, err := json.Marshal(map[string]string{"auth_subject_id": authSubjectID})
	if err != nil {
		return nil, err
	}

	result, err := d.invoker.Invoke(ctx, ProcResolveActor, payload)
	if err != nil {
		return nil, err
	}

	var ident identity.ActorIdentity
	if err := json.Unmarshal(result, &ident); err != nil {
		return nil, fmt.Errorf("decode actor identity: %w", err)
	}
	if ident.InternalActorID == "" {
		return nil, fmt.Errorf("unresolved actor for subject")
	}
	return &ident, nil
}
