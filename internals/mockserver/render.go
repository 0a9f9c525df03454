package mockserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pixelsort/taskwatch/internals/logbuf"
	"github.com/pixelsort/taskwatch/internals/schemas"
)

type RenderOption = func(w http.ResponseWriter, r *http.Request)

type Renderer struct{}

func (Renderer) Status(status int) RenderOption {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}
}

var Render = Renderer{}

func RenderJSON(w http.ResponseWriter, r *http.Request, payload any, opts ...RenderOption) {
	w.Header().Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(w, r)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func renderData[T any](w http.ResponseWriter, r *http.Request, data T) {
	RenderJSON(w, r, schemas.NewEnvelope(data))
}

// renderError writes an error envelope whose code mirrors the HTTP status.
func renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	logbuf.FromContext(r.Context()).Warn(message)
	RenderJSON(w, r, schemas.Envelope[any]{Code: status, Message: message}, Render.Status(status))
}

func renderStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var storeErr *Error
	if errors.As(err, &storeErr) {
		renderError(w, r, storeErr.Status, storeErr.Message)
		return
	}
	renderError(w, r, http.StatusInternalServerError, err.Error())
}
