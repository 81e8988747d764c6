package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/schuttebj/ampro-platform-sub001/internal/clock"
	"github.com/schuttebj/ampro-platform-sub001/internal/eventbus"
	"github.com/schuttebj/ampro-platform-sub001/internal/notification"
	"github.com/schuttebj/ampro-platform-sub001/internal/presenter"
	"github.com/schuttebj/ampro-platform-sub001/internal/settings"
	"github.com/schuttebj/ampro-platform-sub001/internal/storage"
	logx "github.com/schuttebj/ampro-platform-sub001/pkg/logx"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type scriptedFetcher struct {
	mu      sync.Mutex
	calls   int
	batches [][]notification.Raw
	err     error
}

func (f *scriptedFetcher) FetchBatch(context.Context) ([]notification.Raw, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	if len(f.batches) > 1 {
		f.batches = f.batches[1:]
	}
	return b, nil
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingPresenter struct {
	mu    sync.Mutex
	toast []presenter.Toast
}

func (r *recordingPresenter) RequestPermission(context.Context) (bool, error) { return true, nil }
func (r *recordingPresenter) Show(_ context.Context, t presenter.Toast) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toast = append(r.toast, t)
	return errors.New("toast daemon went away")
}

type recordingNavigator struct{ urls []string }

func (r *recordingNavigator) Navigate(_ context.Context, url string) error {
	r.urls = append(r.urls, url)
	return nil
}

type harness struct {
	clk   *clock.Fake
	set   *settings.Store
	svc   *Service
	bus   eventbus.Bus
	fetch *scriptedFetcher
	pres  *recordingPresenter
	nav   *recordingNavigator
}

type harnessOpt func(*Deps, *storage.Store)

func withStore(st storage.Store) harnessOpt {
	return func(_ *Deps, s *storage.Store) { *s = st }
}

func withSettings(set *settings.Store) harnessOpt {
	return func(d *Deps, _ *storage.Store) { d.Settings = set }
}

// gatedKV parks the first PutKV after arm() until open is closed.
type gatedKV struct {
	mu      sync.Mutex
	data    map[string][]byte
	armed   bool
	entered chan struct{}
	open    chan struct{}
}

func newGatedKV() *gatedKV {
	return &gatedKV{data: map[string][]byte{}, entered: make(chan struct{}), open: make(chan struct{})}
}

func (k *gatedKV) arm() {
	k.mu.Lock()
	k.armed = true
	k.mu.Unlock()
}

func (k *gatedKV) GetKV(_ context.Context, key string) ([]byte, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.data[key]
	return v, ok, nil
}

func (k *gatedKV) PutKV(_ context.Context, key string, value []byte) error {
	k.mu.Lock()
	wait := k.armed
	k.armed = false
	k.mu.Unlock()
	if wait {
		close(k.entered)
		<-k.open
	}
	k.mu.Lock()
	k.data[key] = append([]byte(nil), value...)
	k.mu.Unlock()
	return nil
}

func (k *gatedKV) persistedEnabled(t *testing.T) bool {
	t.Helper()
	b, ok, _ := k.GetKV(context.Background(), settings.DefaultKey)
	if !ok {
		t.Fatal("settings never persisted")
	}
	var v struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("decode persisted settings: %v", err)
	}
	return v.Enabled
}

func newHarness(t *testing.T, patch settings.Patch, opts ...harnessOpt) *harness {
	t.Helper()
	h := &harness{
		clk:   clock.NewFake(t0),
		bus:   eventbus.New(),
		fetch: &scriptedFetcher{},
		pres:  &recordingPresenter{},
		nav:   &recordingNavigator{},
	}
	h.set = settings.NewStore(nil, "", logx.Nop())
	deps := Deps{Settings: h.set, Fetcher: h.fetch, Presenter: h.pres, Navigator: h.nav, Clock: h.clk}
	var st storage.Store
	for _, o := range opts {
		o(&deps, &st)
	}
	h.set = deps.Settings
	h.svc = New(Config{}, deps, logx.Nop(), h.bus, st)
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { h.svc.Stop(context.Background()) })
	if _, err := h.set.Update(context.Background(), patch); err != nil {
		t.Fatalf("settings update: %v", err)
	}
	return h
}

func (h *harness) ingest(t *testing.T, raws ...notification.Raw) IngestReport {
	t.Helper()
	rep, err := h.svc.Ingest(context.Background(), raws)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return rep
}

func raw(id, prio, cat string) notification.Raw {
	return notification.Raw{ID: id, Kind: "info", Priority: prio, Category: cat, Title: "title " + id, Message: "message " + id, Timestamp: t0}
}

func autoRaw(id, prio, cat string) notification.Raw {
	r := raw(id, prio, cat)
	r.Metadata = &notification.Metadata{AutoDismissible: true}
	return r
}

func ids(ns []notification.Notification) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.ID)
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }
func strPtr(s string) *string {
	return &s
}

func TestDedupIdempotence(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{})
	h.ingest(t, raw("n1", "normal", "application"), raw("n2", "high", "print_job"), autoRaw("n3", "low", "shipping"))
	before := h.svc.List()
	timers := h.svc.PendingAutoRead()

	rep := h.ingest(t, raw("n3", "normal", "application"), raw("n2", "high", "print_job"))
	if rep.Duplicates != 2 || rep.Admitted != 0 {
		t.Fatalf("report = %+v", rep)
	}
	after := h.svc.List()
	if !equalIDs(ids(before), ids(after)) {
		t.Fatalf("store changed: %v -> %v", ids(before), ids(after))
	}
	for i := range before {
		if before[i].State != after[i].State || before[i].Priority != after[i].Priority {
			t.Fatalf("item %s changed: %+v -> %+v", before[i].ID, before[i], after[i])
		}
	}
	if h.svc.PendingAutoRead() != timers {
		t.Fatal("duplicate ingestion armed extra timers")
	}
	if got := len(h.svc.Delivery().Pending); got != 0 {
		t.Fatalf("duplicate re-entered delivery queue: %d pending", got)
	}
}

func TestDisabledCategoryNeverReachesStore(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{PerCategory: map[notification.Category]settings.CategoryPatch{
		notification.CategoryShipping: {Enabled: boolPtr(false)},
	}})
	rep := h.ingest(t,
		raw("s1", "critical", "shipping"),
		raw("s2", "high", "shipping"),
		raw("s3", "low", "shipping"),
		raw("a1", "low", "application"),
	)
	if rep.Rejected != 3 || rep.Admitted != 1 {
		t.Fatalf("report = %+v", rep)
	}
	for _, n := range h.svc.List() {
		if n.Category == notification.CategoryShipping {
			t.Fatalf("shipping item %s reached the store", n.ID)
		}
	}
	if d := h.svc.Delivery(); d.Current != nil {
		t.Fatalf("rejected critical reached delivery: %+v", d.Current)
	}
	for _, n := range h.svc.History(true) {
		if n.Category == notification.CategoryShipping {
			t.Fatalf("rejected item %s reached history", n.ID)
		}
	}
}

func TestStateMonotonicity(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{})
	h.ingest(t, raw("n1", "normal", "application"))

	steps := []struct {
		name string
		op   func(string) error
		want error
	}{
		{"read", h.svc.MarkRead, nil},
		{"read again", h.svc.MarkRead, ErrInvalidTransition},
		{"archive", h.svc.Archive, nil},
		{"read archived", h.svc.MarkRead, ErrInvalidTransition},
		{"archive again", h.svc.Archive, ErrInvalidTransition},
		{"dismiss", h.svc.Dismiss, nil},
		{"dismiss again", h.svc.Dismiss, ErrNotFound},
		{"archive dismissed", h.svc.Archive, ErrNotFound},
		{"read dismissed", h.svc.MarkRead, ErrNotFound},
	}
	for _, st := range steps {
		if err := st.op("n1"); !errors.Is(err, st.want) {
			t.Fatalf("%s: err = %v, want %v", st.name, err, st.want)
		}
	}

	if n, err := h.svc.BulkApply([]string{"n1"}, BulkMarkRead); err != nil || n != 0 {
		t.Fatalf("bulk read on dismissed = %d, %v", n, err)
	}
	hist := h.svc.History(true)
	if len(hist) != 1 || hist[0].State != notification.StateDismissed {
		t.Fatalf("history = %+v", hist)
	}
	if len(h.svc.History(false)) != 0 {
		t.Fatal("dismissed records are hidden by default")
	}
}

func TestGroupUnreadSumMatchesStore(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{})
	r1 := raw("g1", "normal", "application")
	r1.GroupKey = "citizen-9"
	r2 := raw("g2", "normal", "collection")
	r2.GroupKey2 = "citizen-9"
	h.ingest(t, r1, r2, raw("g3", "high", "print_job"), raw("g4", "low", "shipping"), raw("g5", "critical", "system"))
	_ = h.svc.MarkRead("g4")
	_ = h.svc.Archive("g3")

	sum := 0
	for _, g := range h.svc.Groups() {
		sum += g.UnreadCount
	}
	c := h.svc.Counts()
	if sum != c.Unread {
		t.Fatalf("sum of group unread = %d, store unread = %d", sum, c.Unread)
	}
	if c.Unread != 3 || c.CriticalUnread != 1 || c.Total != 5 {
		t.Fatalf("counts = %+v", c)
	}
	u, cu := h.svc.live.recount()
	if u != c.Unread || cu != c.CriticalUnread {
		t.Fatalf("incremental counts drifted: %+v vs %d/%d", c, u, cu)
	}
}

func TestDeliveryQueueFIFO(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{})
	events, unsub := h.bus.Subscribe(64)
	defer unsub()

	h.ingest(t, raw("A", "high", "application"), raw("n", "normal", "application"), raw("B", "critical", "application"))
	h.ingest(t, raw("C", "high", "print_job"))

	var shown []string
	record := func() {
		if cur := h.svc.Delivery().Current; cur != nil {
			if len(shown) == 0 || shown[len(shown)-1] != cur.ID {
				shown = append(shown, cur.ID)
			}
		}
	}
	record()
	h.clk.Advance(6 * time.Second)
	record()
	h.clk.Advance(10 * time.Second)
	record()
	h.clk.Advance(6 * time.Second)
	if cur := h.svc.Delivery().Current; cur != nil {
		t.Fatalf("slot should be empty, holds %s", cur.ID)
	}
	if !equalIDs(shown, []string{"A", "B", "C"}) {
		t.Fatalf("display order = %v", shown)
	}

	var fromBus []string
	for {
		select {
		case e := <-events:
			if e.Type == EventDeliveryShown {
				fromBus = append(fromBus, e.Data.(DeliveryEvent).ID)
			}
			continue
		default:
		}
		break
	}
	if !equalIDs(fromBus, []string{"A", "B", "C"}) {
		t.Fatalf("delivery.shown events = %v", fromBus)
	}
}

func TestCloseDeliveryPromotesNextAndKeepsItem(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{})
	h.ingest(t, raw("A", "high", "application"), raw("B", "high", "application"))
	if !h.svc.CloseDelivery() {
		t.Fatal("CloseDelivery found nothing on display")
	}
	if cur := h.svc.Delivery().Current; cur == nil || cur.ID != "B" {
		t.Fatalf("current = %+v, want B", cur)
	}
	if _, ok := h.svc.Get("A"); !ok {
		t.Fatal("closing the slot must not remove the item")
	}
	// B's timer started at close time, not at admission.
	h.clk.Advance(5 * time.Second)
	if cur := h.svc.Delivery().Current; cur == nil || cur.ID != "B" {
		t.Fatal("B expired early")
	}
	h.clk.Advance(time.Second)
	if h.svc.Delivery().Current != nil {
		t.Fatal("B should have expired after 6s")
	}
	if h.svc.CloseDelivery() {
		t.Fatal("CloseDelivery on empty slot should report false")
	}
}

func TestDismissedQueueEntriesAreSkipped(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{})
	h.ingest(t, raw("A", "critical", "application"), raw("B", "high", "application"), raw("C", "high", "application"))
	if err := h.svc.Dismiss("B"); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	h.clk.Advance(10 * time.Second)
	if cur := h.svc.Delivery().Current; cur == nil || cur.ID != "C" {
		t.Fatalf("current = %+v, want C", cur)
	}
}

func TestAutoReadTimer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{AutoReadDelaySec: intPtr(5)})
	h.ingest(t, autoRaw("auto", "normal", "application"), raw("manual", "normal", "application"))
	if got := h.svc.PendingAutoRead(); got != 1 {
		t.Fatalf("pending timers = %d, want 1", got)
	}
	h.clk.Advance(5 * time.Second)
	n, _ := h.svc.Get("auto")
	if n.State != notification.StateRead {
		t.Fatalf("auto state = %s, want read", n.State)
	}
	m, _ := h.svc.Get("manual")
	if m.State != notification.StateUnread {
		t.Fatalf("manual state = %s, want unread", m.State)
	}
	if h.svc.PendingAutoRead() != 0 {
		t.Fatal("fired timer was not discarded")
	}
}

func TestAutoReadDisabledByZeroDelay(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{AutoReadDelaySec: intPtr(0)})
	h.ingest(t, autoRaw("auto", "normal", "application"))
	if h.svc.PendingAutoRead() != 0 {
		t.Fatal("zero delay must not arm a timer")
	}
}

func TestDismissBeforeExpiryCancelsTimer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{AutoReadDelaySec: intPtr(30)})
	h.ingest(t, autoRaw("n1", "normal", "application"), autoRaw("n2", "normal", "application"), autoRaw("n3", "normal", "application"))
	pending := h.clk.Pending()

	if err := h.svc.Dismiss("n1"); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if err := h.svc.Archive("n2"); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if err := h.svc.MarkRead("n3"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if got := h.clk.Pending(); got != pending-3 {
		t.Fatalf("clock timers = %d, want %d", got, pending-3)
	}

	events, unsub := h.bus.Subscribe(16)
	defer unsub()
	h.clk.Advance(31 * time.Second)
	select {
	case e := <-events:
		t.Fatalf("unexpected event after expiry: %+v", e)
	default:
	}
	byID := map[string]notification.State{}
	for _, n := range h.svc.History(true) {
		byID[n.ID] = n.State
	}
	if byID["n1"] != notification.StateDismissed || byID["n2"] != notification.StateArchived || byID["n3"] != notification.StateRead {
		t.Fatalf("states after expiry = %v", byID)
	}
}

func TestMarkAllReadCancelsTimers(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{})
	h.ingest(t, autoRaw("a", "normal", "application"), autoRaw("b", "low", "application"), raw("c", "critical", "application"))
	n, err := h.svc.MarkAllRead()
	if err != nil || n != 3 {
		t.Fatalf("MarkAllRead = %d, %v", n, err)
	}
	if h.svc.PendingAutoRead() != 0 {
		t.Fatal("MarkAllRead left timers armed")
	}
	if c := h.svc.Counts(); c.Unread != 0 || c.CriticalUnread != 0 {
		t.Fatalf("counts = %+v", c)
	}
}

func TestCriticalSystemScenario(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{PerCategory: map[notification.Category]settings.CategoryPatch{
		notification.CategorySystem: {Enabled: boolPtr(true), MinPriority: strPtr("critical")},
	}})
	r := raw("n1", "critical", "system")
	r.Metadata = &notification.Metadata{AutoDismissible: false}
	h.ingest(t, r)

	n, ok := h.svc.Get("n1")
	if !ok || n.State != notification.StateUnread {
		t.Fatalf("n1 = %+v ok=%v", n, ok)
	}
	if cur := h.svc.Delivery().Current; cur == nil || cur.ID != "n1" {
		t.Fatalf("delivery slot = %+v", cur)
	}
	if h.svc.PendingAutoRead() != 0 {
		t.Fatal("non auto-dismissible item must not be auto-read")
	}

	if err := h.svc.Dismiss("n1"); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if _, ok := h.svc.Get("n1"); ok {
		t.Fatal("n1 still in store")
	}
	if cur := h.svc.Delivery().Current; cur != nil {
		t.Fatalf("slot not cleared: %+v", cur)
	}
}

func TestDisabledNeverFetches(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{})
	h.fetch.batches = [][]notification.Raw{{raw("x", "high", "application")}}

	for i := 0; i < 10; i++ {
		h.clk.Advance(15 * time.Second)
	}
	if h.fetch.Calls() != 0 {
		t.Fatalf("fetch called %d times while disabled", h.fetch.Calls())
	}
	if len(h.svc.List()) != 0 {
		t.Fatal("store must stay empty while disabled")
	}
	if _, err := h.svc.PollNow(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("PollNow while disabled = %v", err)
	}

	if _, err := h.set.Update(context.Background(), settings.Patch{Enabled: boolPtr(true)}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	h.clk.Advance(15 * time.Second)
	if h.fetch.Calls() != 1 || len(h.svc.List()) != 1 {
		t.Fatalf("after enabling: calls=%d live=%d", h.fetch.Calls(), len(h.svc.List()))
	}

	if _, err := h.set.Update(context.Background(), settings.Patch{Enabled: boolPtr(false)}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	h.clk.Advance(time.Minute)
	if h.fetch.Calls() != 1 {
		t.Fatal("disabling must stop polling")
	}
	if len(h.svc.List()) != 1 {
		t.Fatal("disabling must not clear the store")
	}
}

func TestOverlappingEnableDisableLeavesPollerStopped(t *testing.T) {
	t.Parallel()
	kv := newGatedKV()
	h := newHarness(t, settings.Patch{}, withSettings(settings.NewStore(kv, "", logx.Nop())))
	h.fetch.batches = [][]notification.Raw{{raw("x", "high", "application")}}
	ctx := context.Background()

	kv.arm()
	enabled := make(chan error, 1)
	go func() {
		_, err := h.set.Update(ctx, settings.Patch{Enabled: boolPtr(true)})
		enabled <- err
	}()
	<-kv.entered

	disabled := make(chan error, 1)
	go func() {
		_, err := h.set.Update(ctx, settings.Patch{Enabled: boolPtr(false)})
		disabled <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(kv.open)
	for _, ch := range []chan error{enabled, disabled} {
		if err := <-ch; err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	h.clk.Advance(45 * time.Second)
	if n := h.fetch.Calls(); n != 0 {
		t.Fatalf("fetch called %d times after the disable won", n)
	}
	if h.set.Get().Enabled || kv.persistedEnabled(t) {
		t.Fatalf("enabled: memory=%v persisted=%v", h.set.Get().Enabled, kv.persistedEnabled(t))
	}
}

func TestPollTickDroppedWhileDisableInFlight(t *testing.T) {
	t.Parallel()
	kv := newGatedKV()
	h := newHarness(t, settings.Patch{Enabled: boolPtr(true)}, withSettings(settings.NewStore(kv, "", logx.Nop())))
	h.fetch.batches = [][]notification.Raw{{raw("x", "high", "application")}}

	kv.arm()
	done := make(chan error, 1)
	go func() {
		_, err := h.set.Update(context.Background(), settings.Patch{Enabled: boolPtr(false)})
		done <- err
	}()
	<-kv.entered

	// The armed timer fires before the change callback has run.
	h.clk.Advance(15 * time.Second)
	if n := h.fetch.Calls(); n != 0 {
		t.Fatalf("fetch called %d times with notifications disabled", n)
	}

	close(kv.open)
	if err := <-done; err != nil {
		t.Fatalf("disable: %v", err)
	}
	h.clk.Advance(45 * time.Second)
	if n := h.fetch.Calls(); n != 0 {
		t.Fatalf("fetch called %d times after disable", n)
	}
	if st := h.svc.Status(); !st.Poll.NextPollAt.IsZero() {
		t.Fatalf("next poll still scheduled at %v", st.Poll.NextPollAt)
	}
}

func TestPollIntervalChangeReschedules(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{Enabled: boolPtr(true)})
	h.clk.Advance(10 * time.Second)
	if h.fetch.Calls() != 0 {
		t.Fatal("first poll comes one interval after start")
	}
	if _, err := h.set.Update(context.Background(), settings.Patch{PollIntervalMs: intPtr(2000)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	h.clk.Advance(2 * time.Second)
	if h.fetch.Calls() != 1 {
		t.Fatalf("calls = %d, want 1 two seconds after the change", h.fetch.Calls())
	}
	h.clk.Advance(4 * time.Second)
	if h.fetch.Calls() != 3 {
		t.Fatalf("calls = %d, want 3", h.fetch.Calls())
	}
}

func TestFetchErrorKeepsStateAndRetries(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{Enabled: boolPtr(true), PollIntervalMs: intPtr(1000)})
	h.fetch.batches = [][]notification.Raw{{raw("ok", "normal", "application")}}
	h.clk.Advance(time.Second)
	if len(h.svc.List()) != 1 {
		t.Fatal("first poll should admit one item")
	}

	h.fetch.mu.Lock()
	h.fetch.err = errors.New("connection refused")
	h.fetch.mu.Unlock()
	h.clk.Advance(3 * time.Second)

	st := h.svc.Status()
	if st.Poll.Failures != 3 || st.Poll.LastError == "" {
		t.Fatalf("poll stats = %+v", st.Poll)
	}
	if len(h.svc.List()) != 1 {
		t.Fatal("fetch failures must not clear the store")
	}
	if _, err := h.svc.PollNow(context.Background()); !errors.Is(err, ErrFetch) {
		t.Fatalf("PollNow err = %v, want ErrFetch", err)
	}
	var fe *FetchError
	if _, err := h.svc.PollNow(context.Background()); !errors.As(err, &fe) || fe.Err.Error() != "connection refused" {
		t.Fatalf("PollNow err = %v, want *FetchError", err)
	}

	h.fetch.mu.Lock()
	h.fetch.err = nil
	h.fetch.batches = [][]notification.Raw{{raw("later", "normal", "application")}}
	h.fetch.mu.Unlock()
	h.clk.Advance(time.Second)
	if len(h.svc.List()) != 2 {
		t.Fatal("polling should resume after failures")
	}
}

func TestEvictionStrictlyByRecency(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{MaxDisplayCount: intPtr(3)})
	rep := h.ingest(t,
		autoRaw("n1", "normal", "application"),
		raw("n2", "high", "application"),
		raw("n3", "normal", "application"),
		raw("n4", "normal", "application"),
		raw("n5", "normal", "application"),
	)
	if rep.Evicted != 2 {
		t.Fatalf("evicted = %d", rep.Evicted)
	}
	if got := ids(h.svc.List()); !equalIDs(got, []string{"n5", "n4", "n3"}) {
		t.Fatalf("live = %v", got)
	}
	if h.svc.PendingAutoRead() != 0 {
		t.Fatal("evicted item kept its timer")
	}
	if d := h.svc.Delivery(); d.Current != nil || len(d.Pending) != 0 {
		t.Fatalf("evicted item still queued for delivery: %+v", d)
	}
	if len(h.svc.History(false)) != 5 {
		t.Fatal("evicted items must stay in history")
	}

	if _, err := h.set.Update(context.Background(), settings.Patch{MaxDisplayCount: intPtr(1)}); err != nil {
		t.Fatalf("shrink: %v", err)
	}
	if got := ids(h.svc.List()); !equalIDs(got, []string{"n5"}) {
		t.Fatalf("live after shrink = %v", got)
	}
}

func TestBulkApply(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{MaxDisplayCount: intPtr(3)})
	h.ingest(t, raw("old", "normal", "application"))
	h.ingest(t, raw("a", "high", "application"), raw("b", "normal", "application"), raw("c", "normal", "application"))
	// "old" was evicted but stays in history.

	n, err := h.svc.BulkApply([]string{"a", "old", "missing", "a"}, BulkMarkRead)
	if err != nil || n != 2 {
		t.Fatalf("mark_read = %d, %v", n, err)
	}
	n, _ = h.svc.BulkApply([]string{"a", "b", "old"}, BulkArchive)
	if n != 3 {
		t.Fatalf("archive = %d", n)
	}
	n, _ = h.svc.BulkApply([]string{"a", "b"}, BulkMarkRead)
	if n != 0 {
		t.Fatalf("read on archived = %d", n)
	}
	if cur := h.svc.Delivery().Current; cur == nil || cur.ID != "a" {
		t.Fatal("a should be on display before delete")
	}
	n, _ = h.svc.BulkApply([]string{"a", "old"}, BulkDelete)
	if n != 2 {
		t.Fatalf("delete = %d", n)
	}
	if h.svc.Delivery().Current != nil {
		t.Fatal("deleting the displayed item must clear the slot")
	}
	if got := ids(h.svc.History(true)); !equalIDs(got, []string{"b", "c"}) {
		t.Fatalf("history = %v", got)
	}
	if _, err := h.svc.BulkApply([]string{"b"}, BulkAction("purge")); err == nil {
		t.Fatal("unknown action must fail")
	}
}

func TestDesktopToasts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{})
	h.ingest(t, raw("quiet", "critical", "application"))
	if len(h.pres.toast) != 0 {
		t.Fatal("toasts need desktopEnabled")
	}

	if _, err := h.set.Update(context.Background(), settings.Patch{DesktopEnabled: boolPtr(true), SoundEnabled: boolPtr(false)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	rep := h.ingest(t, raw("c", "critical", "application"), raw("n", "normal", "application"), raw("h", "high", "application"))
	if rep.Admitted != 3 {
		t.Fatalf("presenter failure must not affect ingestion: %+v", rep)
	}
	h.pres.mu.Lock()
	defer h.pres.mu.Unlock()
	if len(h.pres.toast) != 2 {
		t.Fatalf("toasts = %+v", h.pres.toast)
	}
	c := h.pres.toast[0]
	if c.Tag != "c" || !c.Critical || !c.RequireInteraction || !c.Silent {
		t.Fatalf("critical toast = %+v", c)
	}
	if hi := h.pres.toast[1]; hi.Tag != "h" || hi.Critical || hi.RequireInteraction {
		t.Fatalf("high toast = %+v", hi)
	}
}

func TestOpenMarksReadAndNavigates(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{})
	r := autoRaw("n1", "normal", "application")
	r.Action = &notification.ActionRef{URL: "/applications/APP-001", Label: "Review"}
	h.ingest(t, r, raw("n2", "normal", "application"))

	a, err := h.svc.Open(context.Background(), "n1")
	if err != nil || a == nil || a.URL != "/applications/APP-001" {
		t.Fatalf("Open = %+v, %v", a, err)
	}
	if n, _ := h.svc.Get("n1"); n.State != notification.StateRead {
		t.Fatalf("state = %s", n.State)
	}
	if h.svc.PendingAutoRead() != 0 {
		t.Fatal("Open must cancel the auto-read timer")
	}
	if len(h.nav.urls) != 1 || h.nav.urls[0] != "/applications/APP-001" {
		t.Fatalf("navigated = %v", h.nav.urls)
	}

	if a, err := h.svc.Open(context.Background(), "n2"); err != nil || a != nil {
		t.Fatalf("Open without action = %+v, %v", a, err)
	}
	if _, err := h.svc.Open(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Open unknown = %v", err)
	}
}

func TestPruneKeepsLiveItems(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{})
	old := raw("old", "normal", "application")
	old.Timestamp = t0.Add(-48 * time.Hour)
	gone := raw("gone", "normal", "application")
	gone.Timestamp = t0.Add(-48 * time.Hour)
	h.ingest(t, old, gone, raw("fresh", "normal", "application"))
	_ = h.svc.Dismiss("gone")

	if n := h.svc.Prune(t0.Add(-24 * time.Hour)); n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}
	if got := ids(h.svc.History(true)); !equalIDs(got, []string{"fresh", "old"}) {
		t.Fatalf("history = %v", got)
	}
}

func TestHistorySurvivesRestart(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	h := newHarness(t, settings.Patch{}, withStore(st))
	h.ingest(t, raw("n1", "normal", "application"), raw("n2", "high", "print_job"))
	_ = h.svc.Dismiss("n2")
	_, _ = h.svc.BulkApply([]string{"n1"}, BulkArchive)
	h.svc.Stop(context.Background())

	h2 := newHarness(t, settings.Patch{}, withStore(st))
	hist := h2.svc.History(true)
	if len(hist) != 2 {
		t.Fatalf("history after restart = %+v", hist)
	}
	states := map[string]notification.State{}
	for _, n := range hist {
		states[n.ID] = n.State
	}
	if states["n1"] != notification.StateArchived || states["n2"] != notification.StateDismissed {
		t.Fatalf("states = %v", states)
	}
	rep := h2.ingest(t, raw("n1", "normal", "application"), raw("n3", "normal", "application"))
	if rep.Duplicates != 1 || rep.Admitted != 1 {
		t.Fatalf("dedup was not seeded from history: %+v", rep)
	}
}

func TestStopCancelsAllTimers(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{Enabled: boolPtr(true)})
	h.ingest(t, autoRaw("a", "critical", "application"), autoRaw("b", "high", "application"))
	if h.clk.Pending() == 0 {
		t.Fatal("expected armed timers")
	}
	h.svc.Stop(context.Background())
	if got := h.clk.Pending(); got != 0 {
		t.Fatalf("%d timers still armed after Stop", got)
	}
	before := h.svc.List()
	h.clk.Advance(time.Hour)
	if h.fetch.Calls() != 0 {
		t.Fatal("poll ran after Stop")
	}
	after := h.svc.List()
	for i := range before {
		if before[i].State != after[i].State {
			t.Fatalf("%s mutated after Stop", before[i].ID)
		}
	}
	if _, err := h.svc.Ingest(context.Background(), []notification.Raw{raw("c", "low", "application")}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Ingest after Stop = %v", err)
	}
	if err := h.svc.MarkRead("a"); !errors.Is(err, ErrStopped) {
		t.Fatalf("MarkRead after Stop = %v", err)
	}
}

func TestIngestNormalizesAndCountsInvalid(t *testing.T) {
	t.Parallel()
	h := newHarness(t, settings.Patch{})
	r := notification.Raw{ID: " spaced ", Kind: "bogus", Priority: "URGENT", Category: "weather"}
	rep := h.ingest(t, r, notification.Raw{ID: ""})
	if rep.Invalid != 1 {
		t.Fatalf("report = %+v", rep)
	}
	// Unknown category maps to system whose default minimum is high, so the
	// normal-priority fallback is rejected.
	if rep.Rejected != 1 || rep.Admitted != 0 {
		t.Fatalf("report = %+v", rep)
	}
}
