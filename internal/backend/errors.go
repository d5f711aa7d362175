package backend

import "errors"

var (
	ErrNilConnection    = errors.New("connection cannot be nil")
	ErrConnectionClosed = errors.New("connection is closed")
	ErrWriteTimeout     = errors.New("write operation timed out")
	ErrJoinRequired     = errors.New("first event must be a join")
)
