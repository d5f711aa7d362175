package send

import "errors"

// Validation errors caught before any network call.
var (
	ErrEmptyBody   = errors.New("message cannot be empty")
	ErrNoRecipient = errors.New("no recipient selected")
)
