package index

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch is wrapped when a query vector does not fit the index.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// RetrievalError reports a failed similarity search.
type RetrievalError struct {
	Query string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed: %v", e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }
