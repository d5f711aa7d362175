package chat

import "errors"

var (
	ErrDeleteNotAllowed = errors.New("this account cannot delete conversations")
	ErrNotStarted       = errors.New("chat client is not started")
)
