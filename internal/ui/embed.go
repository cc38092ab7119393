// Package ui holds the server-rendered pages and their static assets.
package ui

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

// Assets embeds the static files served under /assets/.
//
//go:embed assets
var Assets embed.FS

// AssetsFS returns the assets rooted at the assets directory.
func AssetsFS() fs.FS {
	sub, err := fs.Sub(Assets, "assets")
	if err != nil {
		panic(err)
	}
	return sub
}

// Pages renders the embedded page templates. Each page is parsed together
// with the shared layout.
type Pages struct {
	pages map[string]*template.Template
}

var funcs = template.FuncMap{
	"join":  strings.Join,
	"title": func(s string) string { return strings.ToUpper(s[:min(1, len(s))]) + s[min(1, len(s)):] },
}

// LoadPages parses every page template.
func LoadPages() (*Pages, error) {
	entries, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	p := &Pages{pages: make(map[string]*template.Template)}
	for _, name := range entries {
		base := strings.TrimSuffix(strings.TrimPrefix(name, "templates/"), ".html")
		if base == "layout" {
			continue
		}
		t, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "templates/layout.html", name)
		if err != nil {
			return nil, fmt.Errorf("parse page %s: %w", base, err)
		}
		p.pages[base] = t
	}
	return p, nil
}

// Has reports whether a page exists.
func (p *Pages) Has(name string) bool {
	_, ok := p.pages[name]
	return ok
}

// Render writes page name with data.
func (p *Pages) Render(w io.Writer, name string, data any) error {
	t, ok := p.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	return t.ExecuteTemplate(w, "layout.html", data)
}
