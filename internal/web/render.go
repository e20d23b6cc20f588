package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strconv"

	"ensemblelung/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"login", "home", "predict", "result", "patient"}

var funcs = template.FuncMap{
	"num": func(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) },
}

func parsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		pages[name] = t
	}
	return pages, nil
}

// page is the data every template receives.
type page struct {
	Title    string
	Notices  []session.Notice
	LoggedIn bool
	User     string
	View     any
}

// render drains pending notices into the page and writes the named template.
func (s *Server) render(w http.ResponseWriter, r *http.Request, name, title string, view any) {
	t, ok := s.pages[name]
	if !ok {
		http.Error(w, "unknown page", http.StatusInternalServerError)
		return
	}
	notices, err := s.sessions.Notices(w, r)
	if err != nil {
		s.log.Warn("drain notices failed", "id", requestID(r), "error", err)
	}
	user, loggedIn := currentUser(r)
	p := page{
		Title:    title,
		Notices:  notices,
		LoggedIn: loggedIn,
		User:     user.DisplayName(),
		View:     view,
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, p); err != nil {
		s.log.Error("render failed", "id", requestID(r), "page", name, "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		s.log.Debug("write page failed", "id", requestID(r), "error", err)
	}
}

// notify queues a notice and redirects, the server-side form of an alert followed by navigation.
func (s *Server) notify(w http.ResponseWriter, r *http.Request, level session.Level, text, to string) {
	if err := s.sessions.AddNotice(w, r, session.Notice{Level: level, Text: text}); err != nil {
		s.log.Warn("queue notice failed", "id", requestID(r), "error", err)
	}
	http.Redirect(w, r, to, http.StatusSeeOther)
}

type namedValue struct {
	Name  string
	Value float64
}

func sortedValues(m map[string]float64) []namedValue {
	out := make([]namedValue, 0, len(m))
	for k, v := range m {
		out = append(out, namedValue{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
