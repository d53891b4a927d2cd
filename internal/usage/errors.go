package usage

import (
	"errors"
	"fmt"
)

// ErrCacheMiss means no cache file exists for the space.
var ErrCacheMiss = errors.New("usage cache miss")

// InvalidError reports a cache file that exists but cannot be trusted.
type InvalidError struct {
	Path    string
	Reason  string
	Wrapped error
}

func (e *InvalidError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("usage cache %s is invalid: %s: %v", e.Path, e.Reason, e.Wrapped)
	}
	return fmt.Sprintf("usage cache %s is invalid: %s", e.Path, e.Reason)
}

func (e *InvalidError) Unwrap() error {
	return e.Wrapped
}

// IsInvalid reports whether err is an *InvalidError.
func IsInvalid(err error) bool {
	var ie *InvalidError
	return errors.As(err, &ie)
}
