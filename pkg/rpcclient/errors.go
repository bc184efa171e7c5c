package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Onering/pkg/rpc"
)

// Package errors.
var (
	// ErrNoEndpoints is returned when the pool has no endpoints at all.
	ErrNoEndpoints = errors.New("no RPC endpoints configured")

	// ErrTransactionNotFound is returned when the server has no record of a signature.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// RPCError is a JSON-RPC error returned by the server.
type RPCError struct {
	Code    int
	Message string
	Data    json.RawMessage

	// txErr is decoded from Data for TransactionFailed errors.
	txErr *rpc.TransactionError
}

func newRPCError(code int, message string, data json.RawMessage) *RPCError {
	e := &RPCError{Code: code, Message: message, Data: data}
	if code == rpc.TransactionFailed && len(data) > 0 {
		var d struct {
			Err *rpc.TransactionError `json:"err"`
		}
		if json.Unmarshal(data, &d) == nil {
			e.txErr = d.Err
		}
	}
	return e
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// TransactionError returns the rollback reason of a failed transaction.
func (e *RPCError) TransactionError() (*rpc.TransactionError, bool) {
	return e.txErr, e.txErr != nil
}

// ErrorCode returns the program error code of a failed transaction, or 0.
// It lets runtime.ErrorCode read codes from remote failures.
func (e *RPCError) ErrorCode() uint32 {
	if e.txErr == nil {
		return 0
	}
	return e.txErr.Code
}

// Is matches program errors by code, so errors.Is(err, onering.ErrEmergencyHalted)
// holds for a transaction the server rolled back with that error.
func (e *RPCError) Is(target error) bool {
	coded, ok := target.(interface{ ErrorCode() uint32 })
	return ok && e.txErr != nil && e.txErr.Code != 0 && coded.ErrorCode() == e.txErr.Code
}

// IsRetryable returns true if the error is likely transient and worth retrying
// on another endpoint.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrNoEndpoints) {
		return false
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		// The server answered. Only a draining server is worth another try.
		return rpcErr.Code == rpc.NodeUnhealthy
	}

	// Transport failures and malformed responses.
	return true
}
