// internal/handlers/http.go
package handlers

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/plurabus/gameserver/internal/matchmaker"
	"github.com/plurabus/gameserver/internal/pages"
	"github.com/plurabus/gameserver/internal/registry"
)

const (
	playPage    = "dyn/play.html"
	privatePage = "dyn/private.html"
	indexPage   = "index.html"

	// ticketCookie carries the issued ticket to the websocket upgrade.
	// Delivery choice: tickets travel as a strict-same-site cookie, never in
	// the page body; TOKEN_PLACEHOLDER is substituted with this sentinel.
	ticketCookie   = "ticket"
	cookieSentinel = "cookie"
)

// validActions is the action whitelist for POST /action. The mode-specific
// legacy routes (/public, /fourplayer, ...) are consolidated here.
var validActions = map[string]bool{
	"public":            true,
	"private":           true,
	"fourplayer":        true,
	"fourplayerprivate": true,
	"practice":          true,
}

// ActionHandler serves POST /action?a=..., the captcha-gated entry to every
// game mode.
func (s *Server) ActionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeStatus(w, http.StatusNotFound, "Not found\n")
			return
		}
		action := r.URL.Query().Get("a")
		if !validActions[action] {
			writeStatus(w, http.StatusNotFound, "Invalid action\n")
			return
		}
		if err := r.ParseForm(); err != nil {
			writeStatus(w, http.StatusBadRequest, "Missing queries\n")
			return
		}
		captchaToken := r.PostFormValue("recaptcha-token")
		if captchaToken == "" && !s.Cfg.TestMode {
			writeStatus(w, http.StatusBadRequest, "Missing queries\n")
			return
		}
		if err := s.Verifier.Verify(r.Context(), captchaToken, action); err != nil {
			s.Log.WithField("prompt", remoteHost(r.RemoteAddr)).Infof("captcha rejected for action %q: %v", action, err)
			writeStatus(w, http.StatusUnauthorized, "Failed captcha\n")
			return
		}

		switch action {
		case "public":
			s.servePlayPage(w, r, matchmaker.PublicPairString, 2, "none")
		case "fourplayer":
			s.servePlayPage(w, r, matchmaker.PublicPairString, 4, "none")
		case "private":
			s.servePrivatePage(w, 2)
		case "fourplayerprivate":
			s.servePrivatePage(w, 4)
		case "practice":
			// Practice runs entirely client-side against the built-in AI; no
			// ticket is issued and the page never dials the game socket.
			mode := r.URL.Query().Get("m")
			if mode == "" {
				mode = "default"
			}
			s.renderPage(w, playPage, pages.ProfileWasm, map[string]string{
				pages.TokenPlaceholder:      "none",
				pages.PairStringPlaceholder: "practice",
				pages.PlayersPlaceholder:    "1",
				pages.PracticePlaceholder:   mode,
			})
		}
	}
}

// servePlayPage issues a fresh ticket (as a cookie) and renders the play page.
func (s *Server) servePlayPage(w http.ResponseWriter, r *http.Request, pairString string, players int, practiceMode string) {
	ticket := registry.NewTicket()
	s.Tickets.Put(ticket, remoteHost(r.RemoteAddr))
	http.SetCookie(w, &http.Cookie{
		Name:     ticketCookie,
		Value:    ticket,
		Path:     "/",
		MaxAge:   int(s.Cfg.TokenLifetime.Seconds()),
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	s.renderPage(w, playPage, pages.ProfileWasm, map[string]string{
		pages.TokenPlaceholder:      cookieSentinel,
		pages.PairStringPlaceholder: pairString,
		pages.PlayersPlaceholder:    strconv.Itoa(players),
		pages.PracticePlaceholder:   practiceMode,
	})
}

// servePrivatePage issues a lobby key and renders the private room page.
func (s *Server) servePrivatePage(w http.ResponseWriter, players int) {
	key := registry.NewLobbyKey()
	s.LobbyKeys.Put(key, players)
	s.renderPage(w, privatePage, pages.ProfileDefault, map[string]string{
		pages.KeyPlaceholder:     key,
		pages.PlayersPlaceholder: strconv.Itoa(players),
	})
}

// LobbyKeyHandler serves GET /g/{lobbyKey}: a valid key yields the play page
// with the key as pair string; anything else is 404. The key is looked up,
// not consumed: it stays valid until its TTL so the second (and any later)
// joiner can use the same link. After the lobby starts, a later GET simply
// seeds a new waiting lobby under the same key.
func (s *Server) LobbyKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeStatus(w, http.StatusNotFound, "Not found\n")
			return
		}
		key := strings.TrimPrefix(r.URL.Path, "/g/")
		if key == "" || strings.Contains(key, "/") {
			writeStatus(w, http.StatusNotFound, "Not found\n")
			return
		}
		players, ok := s.LobbyKeys.Get(key)
		if !ok {
			writeStatus(w, http.StatusNotFound, "Not found\n")
			return
		}
		s.servePlayPage(w, r, key, players, "none")
	}
}

// renderPage substitutes placeholders into a template and writes it with the
// chosen CSP profile.
func (s *Server) renderPage(w http.ResponseWriter, page string, profile pages.Profile, subs map[string]string) {
	body, err := s.Pages.Render(page, subs)
	if err != nil {
		s.Log.WithField("prompt", "Server").Warnf("failed to render %s: %v", page, err)
		writeStatus(w, http.StatusNotFound, "Not found\n")
		return
	}
	pages.WriteHeaders(w.Header(), profile)
	w.Header().Set("Content-Type", pages.ContentTypeFor(page))
	_, _ = w.Write(body)
}

// StaticHandler serves files under the web root. Only mounted in --test mode;
// production puts a reverse proxy in front for static assets. Templates under
// dyn/ are never served directly.
func (s *Server) StaticHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeStatus(w, http.StatusNotFound, "Not found\n")
			return
		}
		rel := strings.TrimPrefix(r.URL.Path, "/")
		if rel == "" {
			rel = indexPage
		}
		if strings.HasPrefix(rel, "dyn/") {
			writeStatus(w, http.StatusNotFound, "Not found\n")
			return
		}
		if pages.IsDynamic(rel) {
			subs := map[string]string{
				pages.NumPlayersPlaceholder: "Players Online: " + strconv.Itoa(s.Conns.Len()),
			}
			s.renderPage(w, rel, pages.ProfileDefault, subs)
			return
		}
		full, err := s.Pages.Open(rel)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				s.Log.WithField("prompt", "Server").Warnf("static open %s: %v", rel, err)
			}
			writeStatus(w, http.StatusNotFound, "Not found\n")
			return
		}
		pages.WriteHeaders(w.Header(), pages.ProfileDefault)
		w.Header().Set("Content-Type", pages.ContentTypeFor(full))
		http.ServeFile(w, r, full)
	}
}
