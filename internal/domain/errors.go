package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrRangeInvalid = errors.New("invalid range")
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
)
