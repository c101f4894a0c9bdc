package extract

import (
	"errors"
	"fmt"
)

// Kind classifies extraction failures so callers can decide between retrying
// and flagging the target for reconfiguration.
type Kind string

const (
	// KindSelectorMissing means no configured selector matched anything.
	// The page likely changed shape and the config needs resynthesis.
	KindSelectorMissing Kind = "selector_missing"
	// KindNormalize means a value was located but could not be cast as
	// configured. The whitespace-normalized value is kept instead.
	KindNormalize Kind = "normalize"
	// KindTransient covers failures worth retrying unchanged, such as an
	// unparseable document from a half-loaded page.
	KindTransient Kind = "transient"
)

// Error carries a classified extraction failure. It implements the error
// interface and supports wrapping via Unwrap.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract: %s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("extract: %s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// IsSelectorMissing reports whether err is an extraction error caused by all
// selectors matching nothing.
func IsSelectorMissing(err error) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.Kind == KindSelectorMissing
}
