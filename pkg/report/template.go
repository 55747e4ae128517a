package report

import (
	"embed"
	"fmt"
	"io"
	"os"
	"text/template"
)

//go:embed templates
var templates embed.FS

// Row is one label/value pair of the report metadata table.
type Row struct {
	Label string
	Value string
}

type templateData struct {
	Target      string
	Description string
	Table       []Row
	SimbadURL   string
	HasModel    bool
}

// LaTeX owns braces, so the template uses << >> delimiters instead.
var reportTemplate = template.Must(template.New("report.tex.tmpl").
	Delims("<<", ">>").
	ParseFS(templates, "templates/report.tex.tmpl"))

func renderDocument(w io.Writer, data templateData) error {
	if err := reportTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("rendering report template: %w", err)
	}
	return nil
}

// copyStyleAsset writes the embedded document class next to the rendered
// document so pdflatex can resolve it.
func copyStyleAsset(path string) error {
	cls, err := templates.ReadFile("templates/photreport.cls")
	if err != nil {
		return fmt.Errorf("reading style asset: %w", err)
	}
	if err := os.WriteFile(path, cls, 0o644); err != nil {
		return fmt.Errorf("copying style asset: %w", err)
	}
	return nil
}
