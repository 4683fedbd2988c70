// Package resolver answers data requests on the producer side of the bridge.
// A Resolver is handed an opaque resource name and parameter mapping and must
// return a result payload or a typed failure; the relay never inspects this
// logic.
package resolver

import (
	"context"

	"github.com/jousa-sbrt/remote-bridge/protocol"
)

// Result is the outcome of resolving a resource request.
type Result struct {
	Status string           `json:"status"`          // "ok" or "error"
	Data   []map[string]any `json:"data,omitempty"`  // row records, newest first
	Error  string           `json:"error,omitempty"` // error tag on failure
}

// OK builds a successful result.
func OK(data []map[string]any) Result {
	return Result{Status: protocol.StatusOK, Data: data}
}

// UnknownResource builds the typed failure for an unrecognized resource name.
func UnknownResource() Result {
	return Result{Status: protocol.StatusError, Error: protocol.ErrUnknownResource}
}

// Resolver resolves a resource name and parameter mapping into a Result.
// Implementations must clamp any "limit" parameter into a safe bounded range
// before use and must never fail the process on a bad request.
type Resolver interface {
	Resolve(ctx context.Context, resource string, params map[string]any) (Result, error)
}
