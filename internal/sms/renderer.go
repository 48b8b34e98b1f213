// Package sms renders the operator-facing SMS messages for the fallback
// channel.
package sms

import (
	"bytes"
	"embed"
	"fmt"
	"math"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Renderer renders SMS bodies from templates.
type Renderer struct {
	alert *template.Template
}

// AlertData is the payload for the alert question message.
type AlertData struct {
	Animal     string
	Confidence float64
	Location   string
}

// NewRenderer loads and parses the message templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":   titleCase,
		"percent": percent,
	}

	content, err := templatesFS.ReadFile("templates/alert.tmpl")
	if err != nil {
		return nil, fmt.Errorf("read alert template: %w", err)
	}

	tmpl, err := template.New("alert").Funcs(funcMap).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse alert template: %w", err)
	}

	return &Renderer{alert: tmpl}, nil
}

// Alert renders the 1/0 question sent to the operator when the cloud
// channel is unreachable.
func (r *Renderer) Alert(data AlertData) (string, error) {
	var buf bytes.Buffer
	if err := r.alert.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render alert message: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

func percent(v float64) string {
	return fmt.Sprintf("%.0f", math.Round(v*100))
}
