// Package httpapi exposes the notification engine over HTTP and a websocket
// event stream.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/schuttebj/ampro-platform-sub001/internal/eventbus"
	"github.com/schuttebj/ampro-platform-sub001/internal/history"
	"github.com/schuttebj/ampro-platform-sub001/internal/notification"
	"github.com/schuttebj/ampro-platform-sub001/internal/notifier"
	"github.com/schuttebj/ampro-platform-sub001/internal/settings"
	logx "github.com/schuttebj/ampro-platform-sub001/pkg/logx"
)

// Engine is the notifier surface the API drives.
type Engine interface {
	List() []notification.Notification
	Get(id string) (notification.Notification, bool)
	Counts() notifier.Counts
	Groups() []notification.Group
	Status() notifier.Status
	Delivery() notifier.DeliveryStatus
	CloseDelivery() bool
	MarkRead(id string) error
	Archive(id string) error
	Dismiss(id string) error
	MarkAllRead() (int, error)
	Open(ctx context.Context, id string) (*notification.ActionRef, error)
	PollNow(ctx context.Context) (notifier.IngestReport, error)
}

type SettingsStore interface {
	Get() settings.Settings
	Update(ctx context.Context, p settings.Patch) (settings.Settings, error)
}

type Handler struct {
	eng      Engine
	hist     *history.Service
	settings SettingsStore
	bus      eventbus.Bus
	log      logx.Logger
	started  time.Time
}

func NewHandler(eng Engine, hist *history.Service, st SettingsStore, bus eventbus.Bus, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{eng: eng, hist: hist, settings: st, bus: bus, log: log, started: time.Now()}
}

type RouterOptions struct {
	Token string
	Pprof bool
}

func NewRouter(h *Handler, opt RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(h.log))
	r.Use(loggingMiddleware(h.log))

	r.Get("/healthz", h.healthz)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(opt.Token))
		if opt.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/status", h.status)
			r.Get("/stream", h.stream)

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", h.listNotifications)
				r.Get("/groups", h.listGroups)
				r.Post("/read-all", h.markAllRead)
				r.Post("/refresh", h.refresh)
				r.Get("/{id}", h.getNotification)
				r.Post("/{id}/read", h.markRead)
				r.Post("/{id}/archive", h.archive)
				r.Post("/{id}/dismiss", h.dismiss)
				r.Post("/{id}/open", h.open)
			})

			r.Get("/delivery", h.delivery)
			r.Post("/delivery/close", h.closeDelivery)

			r.Route("/history", func(r chi.Router) {
				r.Get("/", h.queryHistory)
				r.Post("/bulk", h.bulkHistory)
				r.Get("/stats", h.historyStats)
				r.Get("/export", h.exportHistory)
			})

			r.Get("/settings", h.getSettings)
			r.Patch("/settings", h.patchSettings)
		})
	})
	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ok", map[string]any{
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, h.eng.Status())
}
