// Package aesperrors defines the distinct, inspectable error kinds AESP
// Core raises across subsystems. Policy-rule rejections are data, not
// errors (see the policy package); these kinds are reserved for
// structural, protocol, lifecycle, and crypto failures per spec.
package aesperrors

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a raised error so callers can branch on
// it with errors.Is without string matching.
type Kind string

const (
	// Structural
	InvalidAgentIndex       Kind = "INVALID_AGENT_INDEX"
	InvalidPrice            Kind = "INVALID_PRICE"
	InvalidDeadline         Kind = "INVALID_DEADLINE"
	InvalidChainID          Kind = "INVALID_CHAIN_ID"
	InvalidPolicySignature  Kind = "INVALID_POLICY_SIGNATURE"
	InvalidCommitmentState  Kind = "INVALID_COMMITMENT_STATE"
	InvalidStatusTransition Kind = "INVALID_STATUS_TRANSITION"
	InvalidPrivacyLevel     Kind = "INVALID_PRIVACY_LEVEL"
	CommitmentNotFound      Kind = "COMMITMENT_NOT_FOUND"
	ReviewNotFound          Kind = "REVIEW_NOT_FOUND"
	ReviewAlreadyResolved   Kind = "REVIEW_ALREADY_RESOLVED"
	Rev32Required           Kind = "REV32_REQUIRED"

	// Protocol
	NegotiationError Kind = "NEGOTIATION_ERROR"

	// Lifecycle
	ReviewExpired Kind = "REVIEW_EXPIRED"
	AgentFrozen   Kind = "AGENT_FROZEN"
	Disposed      Kind = "DISPOSED"

	// Crypto
	CryptoError Kind = "CRYPTO_ERROR"
)

// Error is the concrete error type raised by every AESP subsystem. It
// carries a Kind for errors.Is-style matching plus a human-readable
// message and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, aesperrors.New(kind, "")) match on Kind alone,
// ignoring Message/Cause — the conventional way to probe "is this a
// REVIEW_EXPIRED error" without allocating a sentinel per subsystem.
func (e *Error) Is(target error) bool {
	var o *Error
	if errors.As(target, &o) {
		return e.Kind == o.Kind
	}
	return false
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}
