package domain

import "errors"

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrTraceNotFound signals an unknown trace id.
	ErrTraceNotFound = errors.New("trace not found")
	// ErrJobNotFound signals an unknown job id.
	ErrJobNotFound = errors.New("job not found")
	// ErrDimensionMismatch signals inconsistent vector dimensionality within a corpus.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrCorruptStore signals a vector/metadata misalignment detected at load time.
	ErrCorruptStore = errors.New("corrupt corpus store")
	// ErrModelCall signals an unrecoverable model backend failure.
	ErrModelCall = errors.New("model call failed")
	// ErrParseDocument signals a malformed source document; scoped to that document.
	ErrParseDocument = errors.New("document parse failed")
	// ErrUnsupportedFile signals a file type the extractor does not accept.
	ErrUnsupportedFile = errors.New("unsupported file type")
)
