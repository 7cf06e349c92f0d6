package browser

import (
	"context"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ExtractCookies logs into vollna.com with email/password, navigates to
// finalURL, and returns the session cookies as a "name=value; name=value"
// header string plus the cookie count. Browser cookie order is preserved.
func (d *Driver) ExtractCookies(ctx context.Context, scratchDir, email, password, finalURL string) (string, int, error) {
	var header string
	var count int

	err := d.withSession(ctx, scratchDir, func(ctx context.Context) error {
		if err := d.runStage(ctx, "vollna login",
			chromedp.Navigate(d.cfg.VollnaLoginURL),
			chromedp.WaitVisible(`input[name="email"]`, chromedp.ByQuery),
			chromedp.Clear(`input[name="email"]`, chromedp.ByQuery),
			chromedp.SendKeys(`input[name="email"]`, email, chromedp.ByQuery),
			chromedp.Clear(`input[name="password"]`, chromedp.ByQuery),
			chromedp.SendKeys(`input[name="password"]`, password, chromedp.ByQuery),
			chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
			chromedp.Sleep(3*time.Second),
		); err != nil {
			return err
		}

		if err := d.runStage(ctx, "navigate to final URL",
			chromedp.Navigate(finalURL),
			chromedp.Sleep(2*time.Second),
		); err != nil {
			return err
		}

		return d.runStage(ctx, "read cookies",
			chromedp.ActionFunc(func(ctx context.Context) error {
				cookies, err := network.GetCookies().Do(ctx)
				if err != nil {
					return err
				}
				pairs := make([]string, 0, len(cookies))
				for _, c := range cookies {
					pairs = append(pairs, c.Name+"="+c.Value)
				}
				header = strings.Join(pairs, "; ")
				count = len(cookies)
				return nil
			}),
		)
	})
	if err != nil {
		return "", 0, err
	}
	return header, count, nil
}
