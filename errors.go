// errors.go defines public error types for the xavs package.

package xavs

import "github.com/pkg/errors"

// Public error types for session setup.
var (
	// ErrInvalidCPU indicates a CPU override with bits outside the known tiers.
	ErrInvalidCPU = errors.New("xavs: invalid cpu flags")

	// ErrInvalidConfig indicates a session configuration that failed
	// validation. The wrapped cause names the failing component.
	ErrInvalidConfig = errors.New("xavs: invalid configuration")
)

// configError attaches the session sentinel to a component error while
// keeping the component's own sentinel reachable through errors.Is.
type configError struct {
	component string
	cause     error
}

func (e *configError) Error() string {
	return "xavs: " + e.component + ": " + e.cause.Error()
}

func (e *configError) Unwrap() []error {
	return []error{ErrInvalidConfig, e.cause}
}

func wrapConfig(component string, err error) error {
	return errors.WithStack(&configError{component: component, cause: err})
}
