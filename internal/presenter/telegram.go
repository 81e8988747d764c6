package presenter

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "github.com/schuttebj/ampro-platform-sub001/internal/runtime/supervisor"
	logx "github.com/schuttebj/ampro-platform-sub001/pkg/logx"
)

var ErrStopped = errors.New("presenter stopped")

type TelegramConfig struct {
	Token         string
	ChatID        int64
	ThreadID      int
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

// chatSender delivers one message. The telebot implementation is swapped in tests.
type chatSender interface {
	SendText(ctx context.Context, chatID int64, threadID int, text string, silent bool) error
}

type botSender struct{ bot *tele.Bot }

func (b botSender) SendText(ctx context.Context, chatID int64, threadID int, text string, silent bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		DisableNotification:   silent,
		ThreadID:              threadID,
	})
	return err
}

// Telegram relays urgent toasts to an operator chat through a bounded queue
// drained by rate-limited, supervised workers.
type Telegram struct {
	mu sync.Mutex

	cfg     TelegramConfig
	log     logx.Logger
	sender  chatSender
	limiter *rate.Limiter

	queue chan Toast
	sup   *rtsup.Supervisor
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newTelegram(cfg, botSender{bot: b}, log), nil
}

func newTelegram(cfg TelegramConfig, sender chatSender, log logx.Logger) *Telegram {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	return &Telegram{
		cfg:    cfg,
		log:    log,
		sender: sender,
		// Burst = rate per sec so short spikes do not block too hard.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Start launches the worker pool. It is idempotent.
func (t *Telegram) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.queue != nil {
		return
	}
	t.queue = make(chan Toast, t.cfg.QueueSize)
	t.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(t.log),
		rtsup.WithCancelOnError(false),
	)
	q := t.queue
	for i := 0; i < t.cfg.Workers; i++ {
		name := fmt.Sprintf("telegram.worker.%d", i)
		t.sup.GoRestart(name, func(c context.Context) error {
			t.workerLoop(c, q)
			if c.Err() != nil {
				return c.Err()
			}
			return context.Canceled
		}, rtsup.WithPublishFirstError(true))
	}
	t.log.Info("telegram relay started", logx.Int("workers", t.cfg.Workers), logx.Int("rps", t.cfg.RatePerSec))
}

// Stop cancels the workers and waits for them until ctx expires.
func (t *Telegram) Stop(ctx context.Context) {
	t.mu.Lock()
	sup := t.sup
	t.sup = nil
	t.queue = nil
	t.mu.Unlock()
	if sup != nil {
		_ = sup.Stop(ctx)
	}
}

// RequestPermission reports whether a target chat is configured.
func (t *Telegram) RequestPermission(context.Context) (bool, error) {
	return t.cfg.ChatID != 0, nil
}

// Show enqueues the toast; delivery happens asynchronously.
func (t *Telegram) Show(_ context.Context, toast Toast) error {
	t.mu.Lock()
	q := t.queue
	t.mu.Unlock()
	if q == nil {
		return ErrStopped
	}
	select {
	case q <- toast:
		return nil
	default:
		t.log.Warn("telegram queue full; dropping toast", logx.String("tag", toast.Tag), logx.Int("queue_cap", cap(q)))
		return ErrQueueFull
	}
}

func (t *Telegram) workerLoop(ctx context.Context, q <-chan Toast) {
	for {
		select {
		case <-ctx.Done():
			return
		case toast, ok := <-q:
			if !ok {
				return
			}
			t.sendWithRetry(ctx, toast)
		}
	}
}

func (t *Telegram) sendWithRetry(ctx context.Context, toast Toast) {
	text := formatToast(toast)
	attempts := 1 + t.cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := t.sender.SendText(callCtx, t.cfg.ChatID, t.cfg.ThreadID, text, toast.Silent)
		cancel()
		if err == nil {
			return
		}
		lastErr = err
		t.log.Debug("telegram send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt >= attempts {
			break
		}
		timer := time.NewTimer(retryDelay(t.cfg.RetryBase, t.cfg.RetryMaxDelay, attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
	if lastErr != nil {
		t.log.Warn("telegram relay gave up", logx.String("tag", toast.Tag), logx.Err(lastErr))
	}
}

func formatToast(t Toast) string {
	prefix := "⚠️ "
	if t.Critical {
		prefix = "🚨 "
	}
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString("<b>")
	b.WriteString(escapeHTML(t.Title))
	b.WriteString("</b>")
	if body := strings.TrimSpace(t.Body); body != "" {
		b.WriteString("\n")
		b.WriteString(escapeHTML(body))
	}
	return b.String()
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeHTML(s string) string { return htmlEscaper.Replace(s) }

// retryDelay is base * 2^(attempt-1) with 0.7..1.3 jitter, capped at max.
func retryDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > max {
		d = max
	}
	return d
}
