// Package coursegate re-exports the admission controller's main entry points
// so callers embedding the gate need a single import.
package coursegate

import (
	"github.com/coursegate/coursegate/middleware"
)

// Re-export main types for convenience
type (
	Gate       = middleware.Gate
	GateConfig = middleware.GateConfig
	KeyFunc    = middleware.KeyFunc
)

// NewGate creates a new admission gate
var NewGate = middleware.NewGate
