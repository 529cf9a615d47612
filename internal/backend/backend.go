// Package backend invokes the stored procedures behind the gateway. The
// procedure bodies live in the backing store; the gateway only assembles
// their arguments and interprets their results.
package backend

import (
	"context"
	"encoding/json"
)

// Procedure names a backend stored procedure.
type Procedure string

const (
	ProcResolveActor         Procedure = "hera_resolve_actor_v1"
	ProcEntityUpsert         Procedure = "hera_entity_upsert_v1"
	ProcTxnPost              Procedure = "hera_txn_post_v1"
	ProcMicroAppCatalog      Procedure = "hera_microapp_catalog_v1"
	ProcMicroAppInstall      Procedure = "hera_microapp_install_v1"
	ProcMicroAppDependencies Procedure = "hera_microapp_dependencies_v1"
	ProcMicroAppRuntime      Procedure = "hera_microapp_runtime_v1"
	ProcMicroAppWorkflow     Procedure = "hera_microapp_workflow_v1"
)

// Error is a failure classified by the backend itself. The backend is
// trusted to classify its own errors, so these surface as 400s.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Invoker runs one backend procedure with a jsonb payload and returns its
// jsonb result.
type Invoker interface {
	Invoke(ctx context.Context, proc Procedure, payload json.RawMessage) (json.RawMessage, error)
	Ping(ctx context.Context) error
}
