package apperr

import "fmt"

// GatewayError describes a failed or unconfirmed call to the payment
// provider. Provider diagnostics are kept verbatim for operators.
type GatewayError struct {
	Operation  string
	StatusCode int
	Name       string
	Message    string
	DebugID    string
	Status     string
	Body       []byte
	Err        error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("gateway %s: %v", e.Operation, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("gateway %s: http %d %s: %s (debug_id=%s)", e.Operation, e.StatusCode, e.Name, e.Message, e.DebugID)
	default:
		return fmt.Sprintf("gateway %s: unexpected status %q", e.Operation, e.Status)
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }
