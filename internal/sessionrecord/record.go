// Package sessionrecord persists the identity and cookies of the last
// authenticated session so a restarted process can revalidate it silently
// instead of asking for a new login.
//
// There is a single record slot: saving replaces whatever was stored before.
package sessionrecord

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrNoRecord is returned by Load when nothing usable is stored. A corrupt
// record is removed and reported as ErrNoRecord as well.
var ErrNoRecord = errors.New("sessionrecord: no record")

type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	Secure   bool
	HttpOnly bool
}

type Record struct {
	Username string
	Cookies  []Cookie
	SavedAt  time.Time
}

// Store is a place a record can be kept in.
type Store interface {
	Save(ctx context.Context, record Record) error
	Load(ctx context.Context) (Record, error)
	Delete(ctx context.Context) error
}

func CookiesFromHttp(cookies []*http.Cookie) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		})
	}
	return out
}

func (r Record) HttpCookies() []*http.Cookie {
	out := make([]*http.Cookie, 0, len(r.Cookies))
	for _, c := range r.Cookies {
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		})
	}
	return out
}

// NoopStore keeps nothing, it is used when persistence is turned off.
type NoopStore struct{}

func (NoopStore) Save(context.Context, Record) error {
	return nil
}

func (NoopStore) Load(context.Context) (Record, error) {
	return Record{}, ErrNoRecord
}

func (NoopStore) Delete(context.Context) error {
	return nil
}
