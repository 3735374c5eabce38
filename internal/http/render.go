package http

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/kjstillabower/crop-advisor/internal/models"
)

//go:embed templates/index.html
var templateFS embed.FS

// Tabs of the single page.
const (
	TabCrop    = "crop"
	TabWeather = "weather"
)

// PageData is everything the page template reads. Prediction is the
// display text; empty means no prediction block.
type PageData struct {
	ActiveTab    string
	Prediction   string
	FormData     models.CropInput
	City         string
	Weather      *models.Weather
	WeatherError string
}

// Renderer renders the two-tab page. Safe for concurrent use.
type Renderer struct {
	tmpl *template.Template
}

func NewRenderer() (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render writes the page for data. An unknown tab falls back to crop.
func (r *Renderer) Render(w io.Writer, data PageData) error {
	if data.ActiveTab != TabWeather {
		data.ActiveTab = TabCrop
	}
	return r.tmpl.ExecuteTemplate(w, "index.html", data)
}
