package web

import (
	"embed"
	"html/template"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

//go:embed assets
var assets embed.FS

var indexTemplate = template.Must(template.ParseFS(assets, "assets/index.html"))

const (
	htmlContentType       = "text/html; charset=utf-8"
	javascriptContentType = "application/javascript"
)

// Page renders the home page, optionally with a status message in place of
// the message placeholder.
type Page struct {
	tmpl *template.Template
}

func NewPage() *Page {
	return &Page{tmpl: indexTemplate}
}

type pageData struct {
	Message template.HTML
}

// Render writes the page. The message is HTML escaped and each newline
// becomes a line break.
func (p *Page) Render(w io.Writer, message string) error {
	return p.tmpl.Execute(w, pageData{Message: messageHTML(message)})
}

func messageHTML(message string) template.HTML {
	escaped := template.HTMLEscapeString(message)
	return template.HTML(strings.ReplaceAll(escaped, "\n", "<br>\n"))
}

func Index(p *Page) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", htmlContentType)
		if err := p.Render(w, ""); err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to render index page")
		}
	}
}

func Scripts() http.HandlerFunc {
	script, err := assets.ReadFile("assets/scripts.js")
	if err != nil {
		panic(err)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", javascriptContentType)
		w.Write(script)
	}
}
