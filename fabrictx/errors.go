package fabrictx

import "fmt"

// InvalidParameterError reports a setter that received an empty or
// structurally invalid value.
type InvalidParameterError struct {
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter: %s", e.Reason)
}

// MissingParameterError reports a required field that was never set before
// Build.
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing parameter: %s", e.Name)
}
