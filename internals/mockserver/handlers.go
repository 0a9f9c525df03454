package mockserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pixelsort/taskwatch/internals/logbuf"
	"github.com/pixelsort/taskwatch/internals/schemas"
)

func (s *Server) HandlerList(w http.ResponseWriter, r *http.Request) {
	query := schemas.ListQuery{
		Status: schemas.AnalysisStatus(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("search"),
	}
	if err := schemas.ValidateListQuery(&query); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid status filter")
		return
	}
	tasks, err := s.Store.List(query)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}
	logbuf.FromContext(r.Context()).Debug("listed analyses", slog.Int("count", len(tasks)))
	renderData(w, r, tasks)
}

func (s *Server) HandlerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Store.Stats()
	if err != nil {
		renderStoreError(w, r, err)
		return
	}
	renderData(w, r, stats)
}

func (s *Server) HandlerGet(w http.ResponseWriter, r *http.Request) {
	id, ok := analysisID(w, r)
	if !ok {
		return
	}
	task, err := s.Store.Get(id)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}
	renderData(w, r, task)
}

func (s *Server) HandlerSubmit(w http.ResponseWriter, r *http.Request) {
	var request schemas.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := schemas.ValidateSubmitRequest(&request); err != nil {
		renderError(w, r, http.StatusBadRequest, "media_id and model are required")
		return
	}
	task, err := s.Store.Submit(request)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}
	logbuf.FromContext(r.Context()).Info("analysis submitted", slog.Int64("id", task.ID), slog.String("model", task.Model))
	s.Publish(task)
	renderData(w, r, task)
}

func (s *Server) HandlerRetry(w http.ResponseWriter, r *http.Request) {
	id, ok := analysisID(w, r)
	if !ok {
		return
	}
	task, err := s.Store.Retry(id)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}
	logbuf.FromContext(r.Context()).Info("analysis retried", slog.Int64("id", id), slog.Int("retry_count", task.RetryCount))
	s.Publish(task)
	renderData(w, r, task)
}

func (s *Server) HandlerCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := analysisID(w, r)
	if !ok {
		return
	}
	task, err := s.Store.Cancel(id)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}
	logbuf.FromContext(r.Context()).Info("analysis cancelled", slog.Int64("id", id))
	s.Publish(task)
	renderData(w, r, task)
}

func analysisID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		renderError(w, r, http.StatusBadRequest, "invalid analysis id")
		return 0, false
	}
	return id, true
}
