package types

import "errors"

var (
	ErrInvalidUserID       = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRole         = errors.New("role must be one of admin, teacher, student, parent")
	ErrSelfAddressed       = errors.New("sender and receiver must differ")
	ErrEmptyBody           = errors.New("message body cannot be empty")
	ErrBodyTooLarge        = errors.New("message body exceeds 8KB limit")
	ErrInvalidKind         = errors.New("message kind must be text or file")
	ErrMissingAttachment   = errors.New("file message requires an attachment")
	ErrInvalidParticipants = errors.New("conversation must have exactly 2 distinct participants")
	ErrStaleLastMessage    = errors.New("last message cannot be newer than conversation updated_at")
)
