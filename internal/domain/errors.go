package domain

import (
	"errors"
	"fmt"
)

// Kind symbolic category of a failure visible to callers.
type Kind string

const (
	KindConfiguration         Kind = "configuration_error"
	KindAssetNotFound         Kind = "asset_not_found"
	KindAgentNotAuthorized    Kind = "agent_not_authorized"
	KindInsufficientOrderSize Kind = "insufficient_order_size"
	KindNoLiquidity           Kind = "no_liquidity"
	KindExchangeRejected      Kind = "exchange_rejected"
	KindTransientNetwork      Kind = "transient_network_error"
	KindPersistenceGap        Kind = "persistence_gap"
	KindInvalidRequest        Kind = "invalid_request"
	KindNotFound              Kind = "not_found"
	KindInternal              Kind = "internal_error"
)

// Error failure with a symbolic kind and a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	// OutcomeUnknown is set when a write may have reached the exchange
	// even though no response was received.
	OutcomeUnknown bool
	Err            error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error of the given kind.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an Error of the given kind around a cause.
func WrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind carried by err, KindInternal when err has none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the user-facing message of err.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}

// ErrAssetNotFound symbol has no spot market on the network.
func ErrAssetNotFound(symbol string, network Network) *Error {
	return NewError(KindAssetNotFound, "%s is not tradeable on %s", symbol, network)
}

// ErrAgentNotAuthorized delegated signer is not approved by the exchange.
func ErrAgentNotAuthorized(msg string) *Error {
	if msg == "" {
		msg = "agent wallet is not authorized, approve it to continue trading"
	}
	return &Error{Kind: KindAgentNotAuthorized, Message: msg}
}

// ErrNoLiquidity IOC order matched nothing.
func ErrNoLiquidity(symbol string) *Error {
	return NewError(KindNoLiquidity, "order for %s was not filled, try again or raise slippage", symbol)
}

// IsOutcomeUnknown reports whether err is a write failure after which the
// exchange state is unknown.
func IsOutcomeUnknown(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.OutcomeUnknown
}
