package presenter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	logx "github.com/schuttebj/ampro-platform-sub001/pkg/logx"
)

const (
	fdoDest      = "org.freedesktop.Notifications"
	fdoPath      = dbus.ObjectPath("/org/freedesktop/Notifications")
	fdoNotify    = fdoDest + ".Notify"
	fdoServerInf = fdoDest + ".GetServerInformation"

	urgencyNormal   byte = 1
	urgencyCritical byte = 2

	defaultExpireMs int32 = 6000
	maxTagEntries         = 512
)

// caller is the subset of dbus.BusObject DBus needs.
type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// DBus shows toasts through the freedesktop notification daemon on the
// session bus. The connection is opened lazily on first use.
type DBus struct {
	appName string
	log     logx.Logger

	mu   sync.Mutex
	conn *dbus.Conn
	obj  caller
	// tag -> server notification id, so a repeated tag replaces its toast.
	ids   map[string]uint32
	order []string
}

func NewDBus(appName string, log logx.Logger) *DBus {
	if appName == "" {
		appName = "notifyd"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DBus{appName: appName, log: log, ids: map[string]uint32{}}
}

func (d *DBus) object(ctx context.Context) (caller, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.obj != nil {
		return d.obj, nil
	}
	conn, err := dbus.SessionBusPrivate(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("dbus session bus: %w", err)
	}
	if err := conn.Auth(nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("dbus auth: %w", err)
	}
	if err := conn.Hello(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("dbus hello: %w", err)
	}
	d.conn = conn
	d.obj = conn.Object(fdoDest, fdoPath)
	return d.obj, nil
}

// RequestPermission reports whether a notification daemon answers on the bus.
func (d *DBus) RequestPermission(ctx context.Context) (bool, error) {
	obj, err := d.object(ctx)
	if err != nil {
		return false, err
	}
	var name, vendor, version, specVersion string
	if err := obj.CallWithContext(ctx, fdoServerInf, 0).Store(&name, &vendor, &version, &specVersion); err != nil {
		return false, fmt.Errorf("dbus server information: %w", err)
	}
	d.log.Debug("desktop notification daemon found", logx.String("server", name), logx.String("version", version))
	return true, nil
}

func (d *DBus) Show(ctx context.Context, t Toast) error {
	obj, err := d.object(ctx)
	if err != nil {
		return err
	}

	urgency := urgencyNormal
	if t.Critical {
		urgency = urgencyCritical
	}
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(urgency),
	}
	if t.Silent {
		hints["suppress-sound"] = dbus.MakeVariant(true)
	}
	expire := defaultExpireMs
	if t.RequireInteraction {
		expire = 0
	}

	d.mu.Lock()
	replaces := d.ids[t.Tag]
	d.mu.Unlock()

	var id uint32
	call := obj.CallWithContext(ctx, fdoNotify, 0,
		d.appName, replaces, "", t.Title, t.Body, []string{}, hints, expire)
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("dbus notify: %w", err)
	}
	if t.Tag != "" {
		d.remember(t.Tag, id)
	}
	return nil
}

func (d *DBus) remember(tag string, id uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.ids[tag]; !ok {
		d.order = append(d.order, tag)
	}
	d.ids[tag] = id
	for len(d.order) > maxTagEntries {
		delete(d.ids, d.order[0])
		d.order = d.order[1:]
	}
}

func (d *DBus) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	d.obj = nil
	if err != nil && !errors.Is(err, dbus.ErrClosed) {
		return err
	}
	return nil
}
