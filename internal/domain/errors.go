package domain

import "errors"

var (
	ErrBookMissing         = errors.New("no snapshot for book")
	ErrBookStale           = errors.New("snapshot older than freshness window")
	ErrInvalidPath         = errors.New("invalid path")
	ErrInsufficientDepth   = errors.New("insufficient book depth")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBelowThreshold      = errors.New("net profit below threshold")
	ErrLockHeld            = errors.New("resource lock already held")
	ErrLegTimeout          = errors.New("leg fill confirmation timed out")
	ErrLegRejected         = errors.New("leg rejected by venue")
	ErrRemediationFailed   = errors.New("remediation order failed to fill")
	ErrNotFound            = errors.New("not found")
)
