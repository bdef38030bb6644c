// Package browser drives the live puzzle page through the Chrome DevTools
// Protocol.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/logging"
)

// Page locators.
const (
	QuestionPlaceholder = "You can talk to merlin here..."
	PasswordPlaceholder = "SECRET PASSWORD"
	ReplySelector       = "blockquote.mantine-Blockquote-root"
	NotificationTitle   = ".mantine-Notification-title"
	AskButton           = "Ask"
	SubmitButton        = "Submit"
	RejectionText       = "Bad secret word"
)

// ErrNotOpen indicates an operation before Open or after Close.
var ErrNotOpen = errors.New("browser page is not open")

// Config holds browser configuration.
type Config struct {
	// URL of the puzzle page.
	URL string
	// Headless runs the browser without a window (default: true).
	Headless bool
	// UserAgent overrides the browser user agent.
	UserAgent string
	// NavigateTimeout bounds loading the page on Open.
	NavigateTimeout time.Duration
	// PollInterval is how often reply and notification text is sampled.
	PollInterval time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		URL:             "https://hackmerlin.io/",
		Headless:        true,
		NavigateTimeout: 30 * time.Second,
		PollInterval:    100 * time.Millisecond,
	}
}

// Page is a puzzle.Interface backed by one browser tab. The browser is
// started by Open and released by Close.
type Page struct {
	cfg Config

	// start creates the browser context; run executes actions against it.
	start func() (context.Context, context.CancelFunc)
	run   func(ctx context.Context, actions ...chromedp.Action) error

	mu       sync.Mutex
	browser  context.Context
	cancel   context.CancelFunc
	lastSeen string
}

// New creates a page adapter. Zero config fields take their defaults.
func New(cfg Config) *Page {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = def.NavigateTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	p := &Page{cfg: cfg, run: chromedp.Run}
	p.start = p.newBrowser
	return p
}

func (p *Page) newBrowser() (context.Context, context.CancelFunc) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", p.cfg.Headless))
	if p.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(p.cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	return browserCtx, func() {
		browserCancel()
		allocCancel()
	}
}

// Open starts the browser and loads the puzzle page.
func (p *Page) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.browser != nil {
		return nil
	}

	browserCtx, cancel := p.start()

	// The first run launches the process and binds it to its context, so it
	// must not carry a deadline.
	if err := p.run(browserCtx); err != nil {
		cancel()
		return fmt.Errorf("%w: start browser: %w", puzzle.ErrInterfaceLost, err)
	}

	navCtx, navCancel := p.bound(ctx, browserCtx, p.cfg.NavigateTimeout)
	defer navCancel()

	err := p.run(navCtx,
		chromedp.Navigate(p.cfg.URL),
		chromedp.WaitVisible(placeholder(QuestionPlaceholder), chromedp.ByQuery),
	)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: open %s: %w", puzzle.ErrInterfaceLost, p.cfg.URL, err)
	}

	p.browser = browserCtx
	p.cancel = cancel
	p.lastSeen = ""

	logging.Info().
		Add(logging.Component("browser")).
		Add(logging.Str("url", p.cfg.URL)).
		Msg("puzzle page opened")

	return nil
}

// Close releases the browser. It is safe to call more than once.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.browser = nil
	p.cancel = nil
	return nil
}

// Ask types the question and presses the ask button. The reply shown before
// the question becomes the baseline, and reply mutations are counted from
// here on.
func (p *Page) Ask(ctx context.Context, question string) error {
	browserCtx, err := p.session()
	if err != nil {
		return err
	}

	runCtx, cancel := p.bound(ctx, browserCtx, 0)
	defer cancel()

	var current string
	err = p.run(runCtx,
		chromedp.Evaluate(watchReplies(ReplySelector), &current),
		chromedp.Clear(placeholder(QuestionPlaceholder), chromedp.ByQuery),
		chromedp.SendKeys(placeholder(QuestionPlaceholder), question, chromedp.ByQuery),
		chromedp.Click(button(AskButton), chromedp.BySearch),
	)
	if err != nil {
		return p.classify("ask", err)
	}

	p.mu.Lock()
	p.lastSeen = current
	p.mu.Unlock()
	return nil
}

// Read polls the reply until a new one has settled, within the deadline of
// ctx. See settled for what counts as new.
func (p *Page) Read(ctx context.Context) (string, error) {
	browserCtx, err := p.session()
	if err != nil {
		return "", err
	}

	runCtx, cancel := p.bound(ctx, browserCtx, 0)
	defer cancel()

	p.mu.Lock()
	baseline := strings.TrimSpace(p.lastSeen)
	p.mu.Unlock()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	prev := replyState{Mutations: -1}
	for {
		var cur replyState
		if err := p.run(runCtx, chromedp.Evaluate(replyStateOf(ReplySelector), &cur)); err != nil {
			return "", p.classify("read", err)
		}

		cur.Text = strings.TrimSpace(cur.Text)
		if settled(cur, prev, baseline) {
			var reset int
			if err := p.run(runCtx, chromedp.Evaluate(resetReplies, &reset)); err != nil {
				return "", p.classify("read", err)
			}
			p.mu.Lock()
			p.lastSeen = cur.Text
			p.mu.Unlock()
			return cur.Text, nil
		}
		prev = cur

		select {
		case <-runCtx.Done():
			return "", p.classify("read", runCtx.Err())
		case <-ticker.C:
		}
	}
}

// Submit enters the password and watches for a notification within the
// deadline of ctx. A rejection notification yields Rejected; no notification
// yields puzzle.ErrTimeout.
func (p *Page) Submit(ctx context.Context, password string) (puzzle.SubmitReply, error) {
	browserCtx, err := p.session()
	if err != nil {
		return puzzle.SubmitReply{}, err
	}

	runCtx, cancel := p.bound(ctx, browserCtx, 0)
	defer cancel()

	var before []string
	err = p.run(runCtx,
		chromedp.Evaluate(textsOf(NotificationTitle), &before),
		chromedp.Clear(placeholder(PasswordPlaceholder), chromedp.ByQuery),
		chromedp.SendKeys(placeholder(PasswordPlaceholder), password, chromedp.ByQuery),
		chromedp.Click(button(SubmitButton), chromedp.BySearch),
	)
	if err != nil {
		return puzzle.SubmitReply{}, p.classify("submit", err)
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		var titles []string
		if err := p.run(runCtx, chromedp.Evaluate(textsOf(NotificationTitle), &titles)); err != nil {
			return puzzle.SubmitReply{}, p.classify("submit", err)
		}

		if fresh := newTitles(before, titles); len(fresh) > 0 {
			return verdict(fresh), nil
		}

		select {
		case <-runCtx.Done():
			return puzzle.SubmitReply{}, p.classify("submit", runCtx.Err())
		case <-ticker.C:
		}
	}
}

func (p *Page) session() (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.browser == nil {
		return nil, fmt.Errorf("%w: %w", puzzle.ErrInterfaceLost, ErrNotOpen)
	}
	if err := p.browser.Err(); err != nil {
		return nil, fmt.Errorf("%w: browser closed: %w", puzzle.ErrInterfaceLost, err)
	}
	return p.browser, nil
}

// bound derives a chromedp context from browserCtx that ends with ctx. When
// ctx has no deadline, fallback (if positive) is applied.
func (p *Page) bound(ctx, browserCtx context.Context, fallback time.Duration) (context.Context, context.CancelFunc) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(browserCtx, deadline)
	} else if fallback > 0 {
		runCtx, cancel = context.WithTimeout(browserCtx, fallback)
	} else {
		runCtx, cancel = context.WithCancel(browserCtx)
	}

	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// classify maps a chromedp error to the puzzle error taxonomy.
func (p *Page) classify(op string, err error) error {
	p.mu.Lock()
	lost := p.browser == nil || p.browser.Err() != nil
	p.mu.Unlock()

	switch {
	case lost:
		return fmt.Errorf("%w: %s: %w", puzzle.ErrInterfaceLost, op, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %s", puzzle.ErrTimeout, op)
	default:
		return fmt.Errorf("%s failed: %w", op, err)
	}
}

func placeholder(text string) string {
	return "[placeholder=" + strconv.Quote(text) + "]"
}

func button(label string) string {
	return `//button[normalize-space(.)=` + strconv.Quote(label) + `]`
}

// replyState is one sample of the reply blockquote.
type replyState struct {
	Text      string `json:"text"`
	Mutations int    `json:"mutations"`
}

// settled reports whether cur is a reply to the last question. The reply
// must be non-empty, and it must differ from baseline or the reply node must
// have changed since the question, since Merlin often repeats himself. It
// must also match the previous sample so a reply still being rendered is
// not returned half-written.
func settled(cur, prev replyState, baseline string) bool {
	if cur.Text == "" {
		return false
	}
	if cur.Text == baseline && cur.Mutations == 0 {
		return false
	}
	return cur == prev
}

const resetReplies = `window.__merlinReplyMutations = 0`

// watchReplies installs a mutation counter on the reply node (once per
// document), resets it and returns the current reply text.
func watchReplies(selector string) string {
	sel := strconv.Quote(selector)
	return `(() => {
	const sel = ` + sel + `;
	window.__merlinReplyMutations = 0;
	if (!window.__merlinReplyObserver) {
		window.__merlinReplyObserver = new MutationObserver(ms => {
			for (const m of ms) {
				const n = m.target.nodeType === 1 ? m.target : m.target.parentElement;
				const added = Array.from(m.addedNodes).some(a => a.nodeType === 1 && (a.matches(sel) || a.querySelector(sel)));
				if (added || (n && n.closest(sel))) {
					window.__merlinReplyMutations++;
				}
			}
		});
		window.__merlinReplyObserver.observe(document.body, {childList: true, subtree: true, characterData: true});
	}
	const el = document.querySelector(sel);
	return el ? el.innerText : "";
})()`
}

func replyStateOf(selector string) string {
	return `(() => { const el = document.querySelector(` + strconv.Quote(selector) + `); ` +
		`return {text: el ? el.innerText : "", mutations: window.__merlinReplyMutations || 0}; })()`
}

func textsOf(selector string) string {
	return `Array.from(document.querySelectorAll(` + strconv.Quote(selector) + `)).map(el => el.innerText.trim())`
}

// newTitles returns the titles present in after beyond those in before.
func newTitles(before, after []string) []string {
	seen := make(map[string]int, len(before))
	for _, t := range before {
		seen[t]++
	}

	var fresh []string
	for _, t := range after {
		if seen[t] > 0 {
			seen[t]--
			continue
		}
		fresh = append(fresh, t)
	}
	return fresh
}

func verdict(titles []string) puzzle.SubmitReply {
	for _, t := range titles {
		if strings.EqualFold(strings.TrimSpace(t), RejectionText) {
			return puzzle.SubmitReply{Rejected: true, Message: t}
		}
	}
	return puzzle.SubmitReply{Message: strings.Join(titles, "; ")}
}

var (
	_ puzzle.Interface = (*Page)(nil)
	_ puzzle.Lifecycle = (*Page)(nil)
)
