package web

import (
	"bytes"
	"html/template"
	"net/http"

	"go.uber.org/zap"
)

var pageNames = []string{"home", "auth", "denied", "survey", "busy"}

func parsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tpl, err := template.ParseFS(tplFS, "templates/base.gohtml", "templates/"+name+".gohtml")
		if err != nil {
			return nil, err
		}
		pages[name] = tpl
	}
	return pages, nil
}

// render executes a page into a buffer first so a template error never
// leaves a half written response.
func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	tpl, ok := s.pages[name]
	if !ok {
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, "base", data); err != nil {
		s.log.Error("render", zap.String("page", name), zap.Error(err))
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

type pageData struct {
	Path     string
	Message  string
	WorkerID string
}
