package engine

import "errors"

var (
	// ErrUnknownOperation is returned by Do for a name not in the operation table.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrNoSession is returned by Open when no user id is given.
	ErrNoSession = errors.New("no remote session")

	// ErrMalformedImport is returned when an import payload has no usable data.
	ErrMalformedImport = errors.New("malformed import payload")
)
