// Package cookiejar is a thin facade over the CDP storage domain for
// reading, writing, and persisting a browser's cookies. It recovers a
// feature the core transport/session spec treats as out of scope but the
// original prototype this package is modeled on (zendriver's CookieJar)
// carries as a cheap convenience layer.
package cookiejar

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"regexp"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
)

// Record is the gob-serializable snapshot of a single cookie, independent
// of cdproto's own (non-gob-friendly) Cookie type.
type Record struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  float64
	Size     int64
	HTTPOnly bool
	Secure   bool
	Session  bool
	SameSite string
}

// Jar is a cookie facade bound to a single cdp.Executor -- typically a
// Browser's root Connection, though any Connection works since Storage is
// one of the two permanently-enabled domains.
type Jar struct {
	exec cdp.Executor
}

// New returns a Jar that issues storage.* commands through exec.
func New(exec cdp.Executor) *Jar {
	return &Jar{exec: exec}
}

// GetAll returns every cookie currently visible to the browser.
func (j *Jar) GetAll(ctx context.Context) ([]*network.Cookie, error) {
	return storage.GetCookies().Do(cdp.WithExecutor(ctx, j.exec))
}

// SetAll installs cookies, replacing any existing cookie with the same
// name/domain/path.
func (j *Jar) SetAll(ctx context.Context, cookies []*network.CookieParam) error {
	return storage.SetCookies(cookies).Do(cdp.WithExecutor(ctx, j.exec))
}

// Clear removes every cookie.
func (j *Jar) Clear(ctx context.Context) error {
	return storage.ClearCookies().Do(cdp.WithExecutor(ctx, j.exec))
}

// SaveToFile writes the cookies matching pattern (a regexp tested against
// each cookie's name, domain, and value) to path as a gob-encoded
// []Record. An empty pattern matches every cookie.
func (j *Jar) SaveToFile(ctx context.Context, path string, pattern string) error {
	if pattern == "" {
		pattern = ".*"
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compiling cookie filter pattern: %w", err)
	}

	cookies, err := j.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("fetching cookies: %w", err)
	}

	var records []Record
	for _, c := range cookies {
		if !re.MatchString(c.Name) && !re.MatchString(c.Domain) && !re.MatchString(c.Value) {
			continue
		}
		records = append(records, Record{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Size:     c.Size,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			Session:  c.Session,
			SameSite: string(c.SameSite),
		})
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating cookie snapshot %s: %w", path, err)
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(records)
}

// LoadFromFile reads a snapshot written by SaveToFile, filters it by
// pattern (same semantics as SaveToFile), and installs the result via
// SetAll.
func (j *Jar) LoadFromFile(ctx context.Context, path string, pattern string) error {
	if pattern == "" {
		pattern = ".*"
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compiling cookie filter pattern: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening cookie snapshot %s: %w", path, err)
	}
	defer f.Close()

	var records []Record
	if err := gob.NewDecoder(f).Decode(&records); err != nil {
		return fmt.Errorf("decoding cookie snapshot %s: %w", path, err)
	}

	var params []*network.CookieParam
	for _, r := range records {
		if !re.MatchString(r.Name) && !re.MatchString(r.Domain) && !re.MatchString(r.Value) {
			continue
		}
		params = append(params, &network.CookieParam{
			Name:     r.Name,
			Value:    r.Value,
			Domain:   r.Domain,
			Path:     r.Path,
			Expires:  network.CookieExpirationDate(r.Expires),
			HTTPOnly: r.HTTPOnly,
			Secure:   r.Secure,
			SameSite: network.CookieSameSite(r.SameSite),
		})
	}
	if len(params) == 0 {
		return nil
	}
	return j.SetAll(ctx, params)
}
