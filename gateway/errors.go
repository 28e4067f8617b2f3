package gateway

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/status"
)

// ErrNotConnected is returned when a transaction is submitted before Connect.
var ErrNotConnected = errors.New("not connected to a gateway")

// ErrEmptyResponse is returned when endorsement succeeded but the response
// carried no prepared transaction envelope.
var ErrEmptyResponse = errors.New("endorse response contained no prepared transaction")

// NodeError wraps a transport or server-side failure from the gateway.
type NodeError struct {
	Op  string
	Err error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Details())
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// Details returns the server's status message when available.
func (e *NodeError) Details() string {
	if st, ok := status.FromError(e.Err); ok {
		return st.Message()
	}
	return e.Err.Error()
}
