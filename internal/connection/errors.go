package connection

import "errors"

var (
	ErrWriteTimeout  = errors.New("realtime write timed out")
	ErrInvalidConfig = errors.New("invalid realtime configuration")
)
