// Package templates renders the HTML fragments used in map popups and the
// Datastar SSE responses.
package templates

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/joeblew999/forest-sync/internal/format"
)

//go:embed fragments/*.html
var embedded embed.FS

// funcMap provides common template functions.
var funcMap = template.FuncMap{
	// dict creates a map from key-value pairs, useful for passing multiple values to nested templates
	"dict": func(values ...any) map[string]any {
		if len(values)%2 != 0 {
			return nil
		}
		m := make(map[string]any, len(values)/2)
		for i := 0; i < len(values); i += 2 {
			key, ok := values[i].(string)
			if !ok {
				continue
			}
			m[key] = values[i+1]
		}
		return m
	},
	"co2":      format.CO2,
	"hectares": format.Hectares,
	"date": func(t time.Time) string {
		return t.Format(time.DateOnly)
	},
}

// Renderer manages HTML fragment templates.
type Renderer struct {
	templates *template.Template
	mu        sync.RWMutex
}

// New creates a renderer from the fragments compiled into the binary.
func New() (*Renderer, error) {
	tmpl, err := parse(embedded)
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl}, nil
}

// NewFromDir creates a renderer that reads fragments from disk, for editing
// templates without rebuilding. dir should hold a fragments/ directory.
func NewFromDir(dir string) (*Renderer, error) {
	tmpl, err := parse(os.DirFS(dir))
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl}, nil
}

var (
	defaultOnce     sync.Once
	defaultRenderer *Renderer
)

// Default returns the shared renderer over the embedded fragments.
func Default() *Renderer {
	defaultOnce.Do(func() {
		r, err := New()
		if err != nil {
			panic(err)
		}
		defaultRenderer = r
	})
	return defaultRenderer
}

func parse(fsys fs.FS) (*template.Template, error) {
	return template.New("").Funcs(funcMap).ParseFS(fsys, "fragments/*.html")
}

// Render renders a named template to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderToBuffer renders a named template to a buffer.
func (r *Renderer) RenderToBuffer(buf *bytes.Buffer, name string, data any) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.templates.ExecuteTemplate(buf, name, data)
}

// MustRender renders a template and panics on error.
// Use only when you're certain the template exists.
func (r *Renderer) MustRender(name string, data any) string {
	s, err := r.Render(name, data)
	if err != nil {
		panic(err)
	}
	return s
}

// Reload re-reads fragments from disk (useful for dev hot-reload).
func (r *Renderer) Reload(dir string) error {
	tmpl, err := parse(os.DirFS(dir))
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.templates = tmpl
	r.mu.Unlock()

	return nil
}
