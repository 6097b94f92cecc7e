package vtop

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind separates failures the end user should retry later from failures an
// administrator should look at.
type Kind int

const (
	KindTimeout Kind = iota + 1
	KindConnectionRefused
	KindUnexpectedContent
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnectionRefused:
		return "connection refused"
	case KindUnexpectedContent:
		return "unexpected content"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ErrSessionExpired is returned when the portal answers an authenticated
// request with its login form.
var ErrSessionExpired = errors.New("vtop: session expired")

// Error is the only error type that leaves the client for a failed exchange,
// raw transport errors are always wrapped in one.
type Error struct {
	Kind Kind
	Op   string
	Url  string
	Err  error
}

func (e *Error) Error() string {
	if e.Url == "" {
		return fmt.Sprintf("vtop: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("vtop: %s %s: %s: %v", e.Op, e.Url, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var verr *Error
	return errors.As(err, &verr) && verr.Kind == kind
}

// IsConnectionError reports whether the portal could not be reached at all.
func IsConnectionError(err error) bool {
	return IsKind(err, KindTimeout) || IsKind(err, KindConnectionRefused)
}

// transportError classifies a failure to complete an exchange. Anything that
// is not a timeout counts as the portal refusing the connection.
func transportError(op, url string, err error) *Error {
	kind := KindConnectionRefused
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Url: url, Err: err}
}

func contentError(op, url string, format string, args ...any) *Error {
	return &Error{
		Kind: KindUnexpectedContent,
		Op:   op,
		Url:  url,
		Err:  fmt.Errorf(format, args...),
	}
}
