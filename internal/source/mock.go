package source

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/schuttebj/ampro-platform-sub001/internal/clock"
	"github.com/schuttebj/ampro-platform-sub001/internal/notification"
)

type MockConfig struct {
	// PerPoll is the maximum number of new events per poll.
	PerPoll int
	// Window is how many recent events every batch repeats.
	Window int
	Seed   int64
}

type template struct {
	kind       notification.Kind
	priority   notification.Priority
	category   notification.Category
	title      string
	message    string
	entityType string
	action     string
	autoRead   bool
}

var templates = []template{
	{notification.KindSuccess, notification.PriorityNormal, notification.CategoryApplication, "Application approved", "Learner licence application %s was approved.", "application", "/applications/%s", false},
	{notification.KindWarning, notification.PriorityHigh, notification.CategoryApplication, "Application needs review", "Application %s failed automated eye-test validation.", "application", "/applications/%s", false},
	{notification.KindError, notification.PriorityCritical, notification.CategoryPrintJob, "Card print failed", "Print job %s failed: printer reported a ribbon error.", "print_job", "/print-jobs/%s", false},
	{notification.KindSuccess, notification.PriorityLow, notification.CategoryPrintJob, "Card printed", "Print job %s completed.", "print_job", "", true},
	{notification.KindInfo, notification.PriorityNormal, notification.CategoryShipping, "Batch dispatched", "Shipment %s left the production centre.", "shipment", "/shipments/%s", true},
	{notification.KindWarning, notification.PriorityHigh, notification.CategoryShipping, "Shipment delayed", "Shipment %s missed its delivery window.", "shipment", "/shipments/%s", false},
	{notification.KindSuccess, notification.PriorityLow, notification.CategoryCollection, "Licence collected", "Licence %s was collected at the counter.", "license", "", true},
	{notification.KindWarning, notification.PriorityNormal, notification.CategoryCollection, "Uncollected licence", "Licence %s has waited 30 days for collection.", "license", "/licenses/%s", false},
	{notification.KindWarning, notification.PriorityHigh, notification.CategoryCompliance, "Compliance check due", "Medical certificate for %s expires in 7 days.", "citizen", "/citizens/%s", false},
	{notification.KindError, notification.PriorityCritical, notification.CategoryCompliance, "Suspended licence used", "Licence %s was presented while suspended.", "license", "/licenses/%s", false},
	{notification.KindInfo, notification.PriorityNormal, notification.CategorySystem, "Scheduled maintenance", "Back-office maintenance window starts at 22:00 (ref %s).", "system", "", true},
	{notification.KindError, notification.PriorityCritical, notification.CategorySystem, "Payment gateway down", "Fee payments are failing (incident %s).", "system", "", false},
	{notification.KindInfo, notification.PriorityLow, notification.CategoryUserAction, "Report ready", "Your fee report %s is ready to download.", "report", "/reports/%s", true},
}

// Mock generates synthetic licensing-office events. Every batch repeats the
// most recent Window events so consecutive polls overlap.
type Mock struct {
	mu     sync.Mutex
	cfg    MockConfig
	rng    *rand.Rand
	clk    clock.Clock
	recent []notification.Raw
}

func NewMock(cfg MockConfig, clk clock.Clock) *Mock {
	if cfg.PerPoll <= 0 {
		cfg.PerPoll = 3
	}
	if cfg.Window <= 0 {
		cfg.Window = 10
	}
	if clk == nil {
		clk = clock.Real()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = clk.Now().UnixNano()
	}
	return &Mock{cfg: cfg, rng: rand.New(rand.NewSource(seed)), clk: clk}
}

func (m *Mock) FetchBatch(ctx context.Context) ([]notification.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 1 + m.rng.Intn(m.cfg.PerPoll)
	for i := 0; i < n; i++ {
		m.recent = append(m.recent, m.generate())
	}
	if over := len(m.recent) - m.cfg.Window; over > 0 {
		m.recent = m.recent[over:]
	}
	return append([]notification.Raw(nil), m.recent...), nil
}

func (m *Mock) generate() notification.Raw {
	t := templates[m.rng.Intn(len(templates))]
	ref := fmt.Sprintf("%s-%05d", refPrefix(t.category), m.rng.Intn(100000))
	r := notification.Raw{
		ID:        uuid.NewString(),
		Kind:      string(t.kind),
		Priority:  string(t.priority),
		Category:  string(t.category),
		Title:     t.title,
		Message:   fmt.Sprintf(t.message, ref),
		Timestamp: m.clk.Now(),
		Metadata: &notification.Metadata{
			EntityID:        ref,
			EntityType:      t.entityType,
			AutoDismissible: t.autoRead,
		},
	}
	if t.category == notification.CategoryPrintJob {
		r.Metadata.Progress = 100
		if t.priority == notification.PriorityCritical {
			r.Metadata.Progress = m.rng.Intn(100)
			r.Metadata.RetryCount = m.rng.Intn(3)
		}
	}
	if t.action != "" {
		r.Action = &notification.ActionRef{URL: fmt.Sprintf(t.action, ref), Label: "Open"}
	}
	return r
}

func refPrefix(c notification.Category) string {
	switch c {
	case notification.CategoryApplication:
		return "APP"
	case notification.CategoryPrintJob:
		return "PJ"
	case notification.CategoryShipping:
		return "SHP"
	case notification.CategoryCollection, notification.CategoryCompliance:
		return "LIC"
	case notification.CategoryUserAction:
		return "RPT"
	default:
		return "SYS"
	}
}
