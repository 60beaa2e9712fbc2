package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnreferenced    = errors.New("listing has no reference")
	ErrParseMismatch   = errors.New("page structure not recognized")
	ErrUnparsablePrice = errors.New("price is not a number")
	ErrWithdrawn       = errors.New("listing withdrawn")
)
