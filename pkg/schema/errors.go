package schema

import "errors"

var (
	// ErrBadHeader is returned when an account's magic/version/size fails validation.
	ErrBadHeader = errors.New("schema: invalid account header")
	// ErrWrongType is returned when an account decodes but holds the wrong account type.
	ErrWrongType = errors.New("schema: unexpected account type")
	// ErrTruncatedAttr is returned when the attribute table ends mid key or value.
	ErrTruncatedAttr = errors.New("schema: truncated attribute entry")
)
