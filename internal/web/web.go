// Package web serves the join form, the drawing board page and their static
// assets, all embedded in the binary.
package web

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// boardArgs is the data rendered into the board page.
type boardArgs struct {
	Username string
	RoomID   string
}

// Pages renders the HTML pages.
type Pages struct {
	logger zerolog.Logger
}

// NewPages creates the page handlers.
func NewPages(logger zerolog.Logger) *Pages {
	return &Pages{logger: logger.With().Str("component", "web").Logger()}
}

// Index serves the join form.
func (p *Pages) Index(w http.ResponseWriter, r *http.Request) {
	p.render(w, "index.html", nil)
}

// Board serves the drawing board for the username and roomId query
// parameters, sending the browser back to the join form when either is
// missing.
func (p *Pages) Board(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	args := boardArgs{
		Username: q.Get("username"),
		RoomID:   q.Get("roomId"),
	}
	if args.Username == "" || args.RoomID == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	p.render(w, "board.html", args)
}

func (p *Pages) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		p.logger.Error().Err(err).Str("template", name).Msg("render failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// Static serves the embedded assets. Mount it under /static/.
func Static() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}
