package gateway

import (
	"fmt"

	"github.com/heraerp/heraerp-prd-sub016/internal/backend"
	"github.com/heraerp/heraerp-prd-sub016/internal/ratelimit"
)

// Op discriminates the generic command endpoint. String-keyed branching from
// the wire is folded into these constants once, at the parse boundary, so
// the dispatch switch below stays exhaustive.
type Op string

const (
	OpEntities     Op = "entities"
	OpTransactions Op = "transactions"
	OpMicroApps    Op = "micro-apps"
)

// SubOp selects a micro-app subresource.
type SubOp string

const (
	SubOpCatalog      SubOp = "catalog"
	SubOpInstall      SubOp = "install"
	SubOpDependencies SubOp = "dependencies"
	SubOpRuntime      SubOp = "runtime"
	SubOpWorkflow     SubOp = "workflow"
)

// ParseOp validates an op discriminator from the wire.
func ParseOp(raw string) (Op, error) {
	switch op := Op(raw); op {
	case OpEntities, OpTransactions, OpMicroApps:
		return op, nil
	default:
		return "", fmt.Errorf("unknown op %q", raw)
	}
}

// ParseSubOp validates a micro-app subresource discriminator.
func ParseSubOp(raw string) (SubOp, error) {
	switch sub := SubOp(raw); sub {
	case SubOpCatalog, SubOpInstall, SubOpDependencies, SubOpRuntime, SubOpWorkflow:
		return sub, nil
	default:
		return "", fmt.Errorf("unknown sub_op %q", raw)
	}
}

// route binds one operation to its backend procedure and rate-limit endpoint.
type route struct {
	proc             backend.Procedure
	endpoint         string
	requireSmartCode bool
}

var microAppProcs = map[SubOp]backend.Procedure{
	SubOpCatalog:      backend.ProcMicroAppCatalog,
	SubOpInstall:      backend.ProcMicroAppInstall,
	SubOpDependencies: backend.ProcMicroAppDependencies,
	SubOpRuntime:      backend.ProcMicroAppRuntime,
	SubOpWorkflow:     backend.ProcMicroAppWorkflow,
}

func routeFor(op Op, sub SubOp) (route, error) {
	switch op {
	case OpEntities:
		return route{proc: backend.ProcEntityUpsert, endpoint: ratelimit.EndpointEntities, requireSmartCode: true}, nil
	case OpTransactions:
		return route{proc: backend.ProcTxnPost, endpoint: ratelimit.EndpointTransactions, requireSmartCode: true}, nil
	case OpMicroApps:
		proc, ok := microAppProcs[sub]
		if !ok {
			return route{}, fmt.Errorf("micro-apps op requires a valid sub_op")
		}
		return route{proc: proc, endpoint: ratelimit.EndpointMicroApps}, nil
	default:
		return route{}, fmt.Errorf("unknown op %q", op)
	}
}
