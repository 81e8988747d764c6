// Package presenter holds the best-effort delivery surfaces the engine hands
// urgent notifications to (desktop toasts, operator chat relay) and the
// action navigation collaborator.
package presenter

import (
	"context"
	"errors"
	"time"

	"github.com/schuttebj/ampro-platform-sub001/internal/eventbus"
)

var ErrQueueFull = errors.New("presenter queue full")

// Toast is a single desktop-style notification.
type Toast struct {
	Title string
	Body  string
	// Tag identifies the notification; a presenter may replace an earlier
	// toast with the same tag.
	Tag                string
	RequireInteraction bool
	Critical           bool
	Silent             bool
}

// Presenter shows toasts. Callers treat every error as non-fatal.
type Presenter interface {
	RequestPermission(ctx context.Context) (bool, error)
	Show(ctx context.Context, t Toast) error
}

// Navigator is asked to open an action URL. The engine never routes itself.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

type nop struct{}

// Nop grants permission and drops every toast.
func Nop() Presenter { return nop{} }

func (nop) RequestPermission(context.Context) (bool, error) { return true, nil }
func (nop) Show(context.Context, Toast) error               { return nil }

// Multi fans out to every presenter. Permission is granted if any member
// grants it; Show returns the joined errors of the members that failed.
type Multi []Presenter

func (m Multi) RequestPermission(ctx context.Context) (bool, error) {
	var (
		granted bool
		errs    []error
	)
	for _, p := range m {
		if p == nil {
			continue
		}
		ok, err := p.RequestPermission(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		granted = granted || ok
	}
	if granted {
		return true, nil
	}
	return false, errors.Join(errs...)
}

func (m Multi) Show(ctx context.Context, t Toast) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Show(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EventNavigate is published by BusNavigator.
const EventNavigate = "notification.navigate"

type NavigateEvent struct {
	URL string    `json:"url"`
	At  time.Time `json:"at"`
}

// BusNavigator forwards navigation requests to connected UIs via the event bus.
type BusNavigator struct {
	Bus eventbus.Bus
}

func (n BusNavigator) Navigate(_ context.Context, url string) error {
	if n.Bus == nil {
		return nil
	}
	now := time.Now()
	n.Bus.Publish(eventbus.Event{Type: EventNavigate, Time: now, Data: NavigateEvent{URL: url, At: now}})
	return nil
}
