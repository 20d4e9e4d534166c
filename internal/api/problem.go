package api

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

const (
	TypeValidation = "/errors/validation"
	TypeNotFound   = "/errors/not-found"
	TypeInternal   = "/errors/internal"
)

// Problem is an RFC 7807 error body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

func (p *Problem) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, p.Status)
	return nil
}

func newProblem(r *http.Request, status int, typ, title, detail string) *Problem {
	return &Problem{
		Type:     typ,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  middleware.GetReqID(r.Context()),
	}
}

func badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	render.Render(w, r, newProblem(r, http.StatusBadRequest, TypeValidation, "Validation Failed", detail)) //nolint:errcheck
}

func notFound(w http.ResponseWriter, r *http.Request, detail string) {
	render.Render(w, r, newProblem(r, http.StatusNotFound, TypeNotFound, "Resource Not Found", detail)) //nolint:errcheck
}

func internalError(w http.ResponseWriter, r *http.Request) {
	render.Render(w, r, newProblem(r, http.StatusInternalServerError, TypeInternal, "Internal Server Error", "")) //nolint:errcheck
}
