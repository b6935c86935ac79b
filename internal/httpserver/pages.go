package httpserver

import (
	"embed"
	"net/http"

	"github.com/wilsonzlin/wallet-relay/internal/config"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed assets/logo.svg
var logoSVG []byte

// pageData is the model shared by all served pages. Lang and Theme come
// straight from query parameters and are consumed by the page scripts.
type pageData struct {
	Branding  config.Branding
	SessionID string
	Secret    string
	Lang      string
	Theme     string
}

func (s *Server) renderPage(w http.ResponseWriter, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.pages.ExecuteTemplate(w, name, data); err != nil {
		s.log.Error("render page failed", "page", name, "err", err)
	}
}

func (s *Server) pageHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		s.renderPage(w, name, pageData{
			Branding:  s.cfg.Branding,
			SessionID: q.Get("session"),
			Secret:    q.Get("k"),
			Lang:      q.Get("lang"),
			Theme:     q.Get("theme"),
		})
	}
}
