// Package session keeps the login attempts and authenticated sessions of the
// process, keyed by an opaque id handed out to the caller.
package session

import (
	"errors"
	"fmt"
	"time"

	"vtopassist-backend/internal/vtop"
)

var (
	ErrNotFound = errors.New("session: not found")
	// ErrBusy is returned when another request holds the session's lease.
	ErrBusy = errors.New("session: busy")
)

type State int

const (
	PendingChallenge State = iota
	ChallengeReady
	Authenticated
)

func (s State) String() string {
	switch s {
	case PendingChallenge:
		return "PENDING_CHALLENGE"
	case ChallengeReady:
		return "CHALLENGE_READY"
	case Authenticated:
		return "AUTHENTICATED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// AuthSession is one login attempt or authenticated user.
type AuthSession struct {
	ID string
	// Portal is owned by this session alone, it holds the portal cookies.
	Portal vtop.Portal
	// Token is the most recent anti-forgery token the portal issued.
	Token string
	// Username is only set once the session is Authenticated.
	Username string
	State    State

	CreatedAt  time.Time
	LastUsedAt time.Time
}
