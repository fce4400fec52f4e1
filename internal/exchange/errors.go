package exchange

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a fetch failure.
type Kind string

const (
	KindNetwork   Kind = "network"
	KindNotFound  Kind = "not_found"
	KindExtract   Kind = "extract"
	KindCompress  Kind = "compress"
	KindDateParse Kind = "date_parse"
)

// FetchError represents a failure while retrieving a single date's
// bhavcopy. It carries the exchange, trading date and URL so the range
// driver can report per-date outcomes without re-deriving context.
type FetchError struct {
	Kind     Kind
	Exchange string
	Date     time.Time
	URL      string
	Message  string
	Cause    error
}

// Error implements the error interface
func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Kind)
	if e.Exchange != "" {
		fmt.Fprintf(&b, " %s", e.Exchange)
	}
	if !e.Date.IsZero() {
		fmt.Fprintf(&b, " %s", strings.ToUpper(e.Date.Format(DateLayout)))
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *FetchError) Unwrap() error {
	return e.Cause
}

// KindOf returns the classification of err, or the empty Kind when err
// is not a FetchError.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsNotFound reports whether err signals that the origin has no
// bhavcopy for the requested date.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
