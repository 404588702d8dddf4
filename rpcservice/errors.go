package rpcservice

import (
	"errors"
	"fmt"
)

// Request- and chain-scoped failures. All of these are reported to the
// host; none of them are fatal to a chain or to the service.
var (
	// ErrBusy is the admission-control rejection: the chain already has
	// the maximum number of distinct upstream calls outstanding. The host
	// is expected to retry.
	ErrBusy = errors.New("chain is at capacity")
	// ErrUnknownChain reports use of a chain ID that was never added or
	// was already removed.
	ErrUnknownChain = errors.New("unknown chain")
	// ErrUnknownSubscription reports use of a subscription ID that is not
	// active. A second unsubscribe for the same ID yields this error.
	ErrUnknownSubscription = errors.New("unknown subscription")
	// ErrChainRemoved terminates pending requests and subscriptions when
	// their chain is removed mid-flight.
	ErrChainRemoved = errors.New("chain removed")
	// ErrSubscriptionOverflow terminates a single subscription whose
	// delivery queue saturated.
	ErrSubscriptionOverflow = errors.New("subscription queue overflow")
	// ErrTooManySubscriptions rejects a subscribe call once the per-chain
	// subscription table is full.
	ErrTooManySubscriptions = errors.New("too many subscriptions")
)

// JSON-RPC error codes used on the host-facing surface. The -32800 range
// carries the service-specific taxonomy.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeUnknownMethod  = -32601
	codeInvalidParams  = -32602

	codeBusy                 = -32800
	codeUnknownSubscription  = -32801
	codeChainRemoved         = -32802
	codeUpstream             = -32803
	codeBlockPruned          = -32804
	codeSubscriptionOverflow = -32805
	codeTooManySubscriptions = -32806
)

// ProtocolError is a request-scoped failure reported to the host in-band.
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

func newProtocolError(code int, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// UpstreamError wraps an engine failure. Pruned distinguishes "the result
// is no longer obtainable because the block was pruned" from transient
// failures.
type UpstreamError struct {
	Pruned bool
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Pruned {
		return fmt.Sprintf("upstream: block pruned: %v", e.Err)
	}
	return fmt.Sprintf("upstream: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// AddChainError is a structured chain-addition failure.
type AddChainError struct {
	Reason string
	Err    error
}

func (e *AddChainError) Error() string {
	return fmt.Sprintf("add chain: %s: %v", e.Reason, e.Err)
}

func (e *AddChainError) Unwrap() error {
	return e.Err
}
