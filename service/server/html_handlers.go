package server

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/2mur/transfers-timelapse-nc/service/config"
	"github.com/2mur/transfers-timelapse-nc/service/dataset"
)

//go:embed templates/*.html
var templatesFS embed.FS

const faviconSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 32 32">` +
	`<path d="M6 24 Q16 4 26 24" fill="none" stroke="#f88" stroke-width="3"/>` +
	`<circle cx="6" cy="24" r="4" fill="#f88"/><circle cx="26" cy="24" r="4" fill="#444"/></svg>`

// TemplateRenderer holds parsed HTML templates
type TemplateRenderer struct {
	templates *template.Template
	logger    *slog.Logger
}

// NewTemplateRenderer creates a new template renderer from embedded files
func NewTemplateRenderer(logger *slog.Logger) (*TemplateRenderer, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	return &TemplateRenderer{
		templates: tmpl,
		logger:    logger,
	}, nil
}

// Render renders a template with the given data
func (tr *TemplateRenderer) Render(w http.ResponseWriter, name string, data interface{}) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return tr.templates.ExecuteTemplate(w, name, data)
}

type timelapsePage struct {
	Title        string
	LayoutExtent float64
}

// handleTimelapsePage serves the canvas render surface.
func handleTimelapsePage(renderer *TemplateRenderer, cfg *config.Config) http.HandlerFunc {
	page := timelapsePage{
		Title:        "Transfer Timelapse",
		LayoutExtent: dataset.DefaultExtent,
	}
	if cfg != nil && cfg.LayoutExtent > 0 {
		page.LayoutExtent = cfg.LayoutExtent
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if err := renderer.Render(w, "timelapse.html", page); err != nil {
			renderer.logger.Error("failed to render template", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}
}

func handleFavicon() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write([]byte(faviconSVG))
	}
}
