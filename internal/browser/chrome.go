package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"

	"github.com/skyquery/skyquery/internal/common"
)

// ChromeSession drives a headless Chrome via the devtools protocol.
type ChromeSession struct {
	cfg    common.BrowserConfig
	logger *slog.Logger

	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
	browserCtx    context.Context

	mu     sync.Mutex
	closed bool
}

// NewChromeSession launches a browser. The returned session stays alive
// until Close; ctx bounds the launch only.
func NewChromeSession(ctx context.Context, cfg common.BrowserConfig, logger *slog.Logger) (*ChromeSession, error) {
	if logger == nil {
		logger = slog.Default()
	}
	width, height := parseWindowSize(cfg.WindowSize)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(width, height),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &ChromeSession{
		cfg:           cfg,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCancel: browserCancel,
		browserCtx:    browserCtx,
	}

	// Force the browser process to start now so a broken Chrome install
	// fails the run before any record is attempted.
	launchCtx, cancel := context.WithTimeout(browserCtx, cfg.PageLoadTimeout.Std())
	defer cancel()
	if err := chromedp.Run(launchCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %v", common.ErrBrowserStart, err)
	}
	select {
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	default:
	}
	return s, nil
}

func parseWindowSize(spec string) (int, int) {
	parts := strings.SplitN(spec, ",", 2)
	if len(parts) == 2 {
		w, werr := strconv.Atoi(strings.TrimSpace(parts[0]))
		h, herr := strconv.Atoi(strings.TrimSpace(parts[1]))
		if werr == nil && herr == nil && w > 0 && h > 0 {
			return w, h
		}
	}
	return 1920, 1080
}

// run executes actions under the element-level timeout.
func (s *ChromeSession) run(ctx context.Context, timeout common.Duration, actions ...chromedp.Action) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	bctx := s.browserCtx
	s.mu.Unlock()

	opCtx, cancel := context.WithTimeout(bctx, timeout.Std())
	defer cancel()
	// Let the caller's ctx also cancel the operation.
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(opCtx, actions...) }()
	select {
	case err := <-done:
		return s.classify(err)
	case <-ctx.Done():
		cancel()
		<-done
		return s.classify(ctx.Err())
	}
}

func (s *ChromeSession) classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	case strings.Contains(err.Error(), "could not find node") ||
		strings.Contains(err.Error(), "no nodes found"):
		return fmt.Errorf("%w: %v", ErrElementNotFound, err)
	default:
		return err
	}
}

// Navigate loads url and waits for the body to render.
func (s *ChromeSession) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("browser.navigate", "url", url)
	return s.run(ctx, s.cfg.PageLoadTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Fill clears the element and types value into it. Read-only inputs (the
// site renders its date picker that way) have the attribute stripped and
// the value set through the DOM, with input/change events dispatched so
// the page's scripts notice.
func (s *ChromeSession) Fill(ctx context.Context, xpath, value string) error {
	var nodes []*cdp.Node
	err := s.run(ctx, s.cfg.ImplicitWait,
		chromedp.WaitVisible(xpath, chromedp.BySearch),
		chromedp.Nodes(xpath, &nodes, chromedp.BySearch),
		chromedp.ActionFunc(func(cctx context.Context) error {
			for _, n := range nodes {
				if n.AttributeValue("readonly") != "" {
					if err := dom.RemoveAttribute(n.NodeID, "readonly").Do(cctx); err != nil {
						return err
					}
				}
			}
			return nil
		}),
		chromedp.SetValue(xpath, "", chromedp.BySearch),
		chromedp.SendKeys(xpath, value, chromedp.BySearch),
	)
	if err != nil {
		return err
	}
	// Fire the events frameworks listen on; SendKeys alone does not
	// always trigger them for programmatically unlocked inputs.
	script := fmt.Sprintf(`(function() {
		var r = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null);
		var el = r.singleNodeValue;
		if (!el) return false;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, xpath)
	var ok bool
	return s.run(ctx, s.cfg.ImplicitWait, chromedp.Evaluate(script, &ok))
}

// Click waits for the element and clicks it.
func (s *ChromeSession) Click(ctx context.Context, xpath string) error {
	return s.run(ctx, s.cfg.ImplicitWait,
		chromedp.WaitVisible(xpath, chromedp.BySearch),
		chromedp.Click(xpath, chromedp.BySearch),
	)
}

// WaitVisible blocks until the element is rendered or the implicit wait
// elapses.
func (s *ChromeSession) WaitVisible(ctx context.Context, xpath string) error {
	return s.run(ctx, s.cfg.ImplicitWait,
		chromedp.WaitVisible(xpath, chromedp.BySearch),
	)
}

// Text returns the trimmed text content of the element.
func (s *ChromeSession) Text(ctx context.Context, xpath string) (string, error) {
	var out string
	err := s.run(ctx, s.cfg.ImplicitWait,
		chromedp.WaitVisible(xpath, chromedp.BySearch),
		chromedp.Text(xpath, &out, chromedp.BySearch),
	)
	return strings.TrimSpace(out), err
}

// ScreenshotElement captures a PNG of the element's box.
func (s *ChromeSession) ScreenshotElement(ctx context.Context, xpath string) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, s.cfg.ImplicitWait,
		chromedp.WaitVisible(xpath, chromedp.BySearch),
		chromedp.Screenshot(xpath, &buf, chromedp.BySearch),
	)
	return buf, err
}

// ElementExists reports presence without blocking on visibility.
func (s *ChromeSession) ElementExists(ctx context.Context, xpath string) (bool, error) {
	var nodes []*cdp.Node
	err := s.run(ctx, s.cfg.ImplicitWait,
		chromedp.Nodes(xpath, &nodes, chromedp.BySearch, chromedp.AtLeast(0)),
	)
	if err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

// PageContains reports whether the rendered page source contains needle.
func (s *ChromeSession) PageContains(ctx context.Context, needle string) (bool, error) {
	var html string
	err := s.run(ctx, s.cfg.ImplicitWait,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return false, err
	}
	return strings.Contains(html, needle), nil
}

// Close shuts the browser down. Idempotent.
func (s *ChromeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.browserCancel()
	s.allocCancel()
	return nil
}
