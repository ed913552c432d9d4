package httpx

import (
	"embed"
	"fmt"
	"html/template"

	"github.com/dkoval/todolist/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{
	"home.html",
	"signup.html",
	"login.html",
	"tasks.html",
	"completed.html",
	"create.html",
	"task.html",
	"notfound.html",
	"error.html",
}

// parseTemplates builds one template set per page, each sharing the base
// layout.
func parseTemplates() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.ParseFS(templateFS, "templates/base.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return pages, nil
}

// pageData carries everything the page templates can reference.
type pageData struct {
	User  *domain.User
	Error string
	Next  string
	Form  formValues
	Task  *domain.Task
	Tasks []domain.Task
}

// formValues echoes submitted fields back into a re-rendered form.
type formValues struct {
	Username string
	Title    string
	Memo     string
}
