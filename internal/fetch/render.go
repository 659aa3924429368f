package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ChromeRenderer renders script-heavy pages in headless Chrome over the
// DevTools protocol and returns the final document HTML.
type ChromeRenderer struct {
	// ChromePath optionally overrides the browser executable; empty means
	// whatever chromedp finds on PATH.
	ChromePath string
	// Timeout is the per-page budget for navigation plus rendering.
	Timeout time.Duration
	Logger  *log.Logger
}

// Render navigates to url, waits for the network to go idle (or the wait
// budget to run out), and returns the outer HTML of the document.
func (r *ChromeRenderer) Render(ctx context.Context, url string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 35 * time.Second
	}

	allocatorOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocatorOpts = append(allocatorOpts,
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoFirstRun,
		chromedp.Headless,
	)
	if r.ChromePath != "" {
		allocatorOpts = append(allocatorOpts, chromedp.ExecPath(r.ChromePath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocatorOpts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, timeout)
	defer cancelRun()

	waitForNetworkIdle := func(ctx context.Context) error {
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return err
		}
		idle := make(chan struct{})
		chromedp.ListenTarget(ctx, func(ev interface{}) {
			if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
				select {
				case idle <- struct{}{}:
				default:
				}
			}
		})
		select {
		case <-idle:
			return nil
		case <-time.After(timeout / 2):
			// Pages with long-polling never go idle; capture what rendered.
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(waitForNetworkIdle),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("failed to render %s: %w", url, err)
	}
	if r.Logger != nil {
		r.Logger.Debug("page rendered", "url", url, "bytes", len(html))
	}
	return html, nil
}
