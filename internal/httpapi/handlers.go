package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/schuttebj/ampro-platform-sub001/internal/history"
	"github.com/schuttebj/ampro-platform-sub001/internal/notification"
	"github.com/schuttebj/ampro-platform-sub001/internal/settings"
	logx "github.com/schuttebj/ampro-platform-sub001/pkg/logx"
)

func (h *Handler) listNotifications(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{
		"items":  h.eng.List(),
		"counts": h.eng.Counts(),
	})
}

func (h *Handler) listGroups(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, h.eng.Groups())
}

func (h *Handler) getNotification(w http.ResponseWriter, r *http.Request) {
	n, ok := h.eng.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "notification not found")
		return
	}
	writeSuccess(w, http.StatusOK, n)
}

func (h *Handler) command(fn func(id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := fn(id); err != nil {
			writeDomainError(w, r, err)
			return
		}
		n, _ := h.eng.Get(id)
		writeSuccess(w, http.StatusOK, n)
	}
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) { h.command(h.eng.MarkRead)(w, r) }

func (h *Handler) archive(w http.ResponseWriter, r *http.Request) { h.command(h.eng.Archive)(w, r) }

func (h *Handler) dismiss(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.Dismiss(chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "dismissed", nil)
}

func (h *Handler) markAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.eng.MarkAllRead()
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"updated": n, "counts": h.eng.Counts()})
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) {
	action, err := h.eng.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil && action == nil {
		writeDomainError(w, r, err)
		return
	}
	if err != nil {
		h.log.Warn("navigation failed", logx.String("url", action.URL), logx.Err(err))
	}
	writeSuccess(w, http.StatusOK, map[string]any{"action": action})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	rep, err := h.eng.PollNow(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, rep)
}

func (h *Handler) delivery(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, h.eng.Delivery())
}

func (h *Handler) closeDelivery(w http.ResponseWriter, _ *http.Request) {
	closed := h.eng.CloseDelivery()
	writeSuccess(w, http.StatusOK, map[string]any{"closed": closed, "delivery": h.eng.Delivery()})
}

func parseFilter(r *http.Request) (history.Filter, error) {
	q := r.URL.Query()
	f := history.Filter{
		Text:     strings.TrimSpace(q.Get("q")),
		Category: notification.Category(strings.ToLower(strings.TrimSpace(q.Get("category")))),
		Priority: notification.Priority(strings.ToLower(strings.TrimSpace(q.Get("priority")))),
		Status:   history.Status(strings.ToLower(strings.TrimSpace(q.Get("status")))),
	}
	switch strings.ToLower(q.Get("include_dismissed")) {
	case "1", "true", "yes":
		f.IncludeDismissed = true
	}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, errors.Join(history.ErrInvalidFilter, err)
		}
		f.Since = t
	}
	return f, f.Validate()
}

func (h *Handler) queryHistory(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	q := r.URL.Query()
	page, err := h.hist.Query(f, parseIntDefault(q.Get("page"), 1), parseIntDefault(q.Get("page_size"), history.DefaultPageSize))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, page)
}

type bulkRequest struct {
	IDs    []string `json:"ids"`
	Action string   `json:"action"`
}

func (h *Handler) bulkHistory(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	n, err := h.hist.Bulk(req.IDs, req.Action)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"action": req.Action, "affected": n})
}

func (h *Handler) historyStats(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	st, err := h.hist.Stats(f)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, st)
}

func (h *Handler) exportHistory(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	ex, err := h.hist.Export(f)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="notifications-`+ex.ExportedAt.UTC().Format("20060102-150405")+`.json"`)
	writeJSON(w, http.StatusOK, ex)
}

func (h *Handler) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, h.settings.Get())
}

func (h *Handler) patchSettings(w http.ResponseWriter, r *http.Request) {
	var p settings.Patch
	if err := decodeBody(r, &p); err != nil {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	st, err := h.settings.Update(r.Context(), p)
	switch {
	case err == nil:
		writeSuccess(w, http.StatusOK, st)
	case errors.Is(err, settings.ErrPersistence):
		h.log.Warn("settings applied but not persisted", logx.Err(err))
		writeMessage(w, http.StatusOK, "settings applied but could not be saved", st)
	default:
		writeDomainError(w, r, err)
	}
}
