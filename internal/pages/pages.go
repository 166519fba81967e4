// internal/pages/pages.go

// Package pages serves the handful of HTML templates and static assets the
// game frontend needs. Templating is literal byte replacement of placeholder
// keys; there is deliberately no html/template here because the pages are
// trusted files and the substituted values are server-generated.
package pages

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Placeholder keys substituted into dynamic pages.
const (
	TokenPlaceholder      = "TOKEN_PLACEHOLDER"
	PairStringPlaceholder = "PSTR_PLACEHOLDER"
	KeyPlaceholder        = "KEY_PLACEHOLDER"
	PlayersPlaceholder    = "PLAYERS_PLACEHOLDER"
	PracticePlaceholder   = "PMODE_PLACEHOLDER"
	NumPlayersPlaceholder = "NUMPLAYERS_PLACEHOLDER"
)

// contentTypes maps file extensions to Content-Type headers. Unknown
// extensions fall back to application/octet-stream.
var contentTypes = map[string]string{
	".css":  "text/css",
	".html": "text/html; charset=utf-8",
	".txt":  "text/plain",
	".ico":  "image/x-icon",
	".png":  "image/png",
	".js":   "text/javascript",
	".wasm": "application/wasm",
	".data": "application/octet-stream",
}

// ContentTypeFor returns the Content-Type for a file path by extension.
func ContentTypeFor(name string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// CSP is an ordered set of Content-Security-Policy directives.
type CSP map[string]string

func defaultCSP() CSP {
	return CSP{
		"script-src":  "'self' https://www.recaptcha.net/recaptcha/ https://www.gstatic.com/recaptcha/;",
		"img-src":     "'self';",
		"frame-src":   "'self' https://www.recaptcha.net/recaptcha/;",
		"connect-src": "'self' https://fonts.googleapis.com/ https://fonts.gstatic.com/;",
		"style-src":   "'self' https://fonts.googleapis.com/;",
		"default-src": "'self' https://fonts.gstatic.com/;",
	}
}

func (c CSP) prepend(key, source string) {
	c[key] = source + " " + c[key]
}

func (c CSP) String() string {
	// Directive order is irrelevant to browsers, but keep it stable for tests
	// and log grepping.
	keys := []string{"script-src", "img-src", "frame-src", "connect-src", "style-src", "default-src"}
	var b strings.Builder
	for _, k := range keys {
		if v, ok := c[k]; ok {
			fmt.Fprintf(&b, "%s %v", k, v)
		}
	}
	return b.String()
}

// Profile selects the CSP variant applied to a response.
type Profile int

const (
	// ProfileDefault is the standard locked-down policy.
	ProfileDefault Profile = iota
	// ProfileWasm additionally allows 'unsafe-eval' and the game's websocket
	// and blob origins, required by pages that load WebAssembly.
	ProfileWasm
)

// WriteHeaders sets the standard security headers plus the chosen CSP profile.
func WriteHeaders(h http.Header, p Profile) {
	csp := defaultCSP()
	if p == ProfileWasm {
		csp.prepend("script-src", "'unsafe-eval'")
		csp.prepend("img-src", "blob:")
		csp.prepend("connect-src", "wss:")
	}
	h.Set("Content-Security-Policy", csp.String())
	h.Set("Cross-Origin-Embedder-Policy", "require-corp")
	h.Set("Cross-Origin-Opener-Policy", "same-origin")
	h.Set("Cross-Origin-Resource-Policy", "same-origin")
	h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
}

// Store loads page files from a web root directory.
type Store struct {
	root string
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// dynamicPages are the templates that receive placeholder substitution.
var dynamicPages = map[string]bool{
	"index.html":   true,
	"play.html":    true,
	"private.html": true,
}

// IsDynamic reports whether the named file gets placeholder substitution.
func IsDynamic(name string) bool {
	return dynamicPages[path.Base(name)]
}

// Render reads the named file under the web root and substitutes every
// placeholder in subs. The rel path is cleaned and confined to the root.
func (s *Store) Render(rel string, subs map[string]string) ([]byte, error) {
	full, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	for key, val := range subs {
		body = bytes.ReplaceAll(body, []byte(key), []byte(val))
	}
	return body, nil
}

// Open resolves a static file under the web root without templating.
func (s *Store) Open(rel string) (string, error) {
	return s.resolve(rel)
}

func (s *Store) resolve(rel string) (string, error) {
	clean := filepath.Clean("/" + rel)
	full := filepath.Join(s.root, clean)
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return "", os.ErrNotExist
	}
	return full, nil
}
