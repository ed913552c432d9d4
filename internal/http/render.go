package httpx

import (
	"encoding/json"
	"net/http"
)

// render writes an HTML page with the given status code.
func (r *Router) render(w http.ResponseWriter, status int, page string, data pageData) {
	tmpl, ok := r.templates[page]
	if !ok {
		r.logger.Error("unknown template", "page", page)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		r.logger.Error("template execution failed", "page", page, "error", err)
	}
}

// writeJSON writes a JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
