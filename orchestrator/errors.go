package orchestrator

import "fmt"

// ConfigurationError is returned at construction for a model that cannot be
// built from its config. Minion names the offending descriptor when there
// is one.
type ConfigurationError struct {
	Minion string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Minion != "" {
		msg += fmt.Sprintf(" in minion %q", e.Minion)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ContractMismatchError is returned when a worker does not match the call
// shape its group requires, or when the state a worker needs for a forward
// pass is absent.
type ContractMismatchError struct {
	Worker string
	Reason string
}

func (e *ContractMismatchError) Error() string {
	return fmt.Sprintf("contract mismatch for worker %q: %s", e.Worker, e.Reason)
}
