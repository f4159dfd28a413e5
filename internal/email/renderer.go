package email

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// TemplateData is the context available to notification templates.
type TemplateData struct {
	ProductName    string
	ProductURL     string
	UnsubscribeURL string
	StoreName      string
	Quantity       int
}

// Renderer produces notification messages from the embedded templates.
type Renderer struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

// NewRenderer parses the embedded templates. It fails only if the embedded
// files are malformed, so callers can treat an error as a build defect.
func NewRenderer() (*Renderer, error) {
	html, err := htmltemplate.ParseFS(templateFS, "templates/notification.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse html template: %w", err)
	}
	text, err := texttemplate.ParseFS(templateFS, "templates/notification.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse text template: %w", err)
	}
	return &Renderer{html: html, text: text}, nil
}

// Render builds the message for one subscriber.
func (r *Renderer) Render(to string, data TemplateData) (*Message, error) {
	var html bytes.Buffer
	if err := r.html.ExecuteTemplate(&html, "notification.html.tmpl", data); err != nil {
		return nil, fmt.Errorf("render html body: %w", err)
	}

	var text bytes.Buffer
	if err := r.text.ExecuteTemplate(&text, "notification.txt.tmpl", data); err != nil {
		return nil, fmt.Errorf("render text body: %w", err)
	}

	return &Message{
		To:       to,
		Subject:  fmt.Sprintf("%s is back in stock!", data.ProductName),
		HTMLBody: html.String(),
		TextBody: text.String(),
	}, nil
}
