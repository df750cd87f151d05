package apperrors

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrMalformedRecord   = errors.New("malformed record")
	ErrInvariant         = errors.New("state invariant violated")
	ErrNicknameExhausted = errors.New("could not find free nickname")
)
