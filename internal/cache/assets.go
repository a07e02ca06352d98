package cache

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
)

// DiscoverAssets fetches the app shell page and collects the same-origin
// stylesheets, scripts, and images it references, so the precache manifest
// does not have to be maintained by hand.
func (s *Storage) DiscoverAssets(ctx context.Context, shellURL string) ([]string, error) {
	base, err := url.Parse(shellURL)
	if err != nil {
		return nil, fmt.Errorf("parse shell URL: %w", err)
	}

	var doc *goquery.Document
	err = retry.Do(
		func() error {
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, shellURL, http.NoBody)
			if reqErr != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", reqErr))
			}

			resp, doErr := s.client.Do(req)
			if doErr != nil {
				return doErr
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					s.logger.Warn("Failed to close shell response body", "error", closeErr)
				}
			}()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			var parseErr error
			doc, parseErr = goquery.NewDocumentFromReader(resp.Body)
			if parseErr != nil {
				return fmt.Errorf("parse shell HTML: %w", parseErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying shell fetch", "attempt", n, "url", shellURL, "error", retryErr)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch shell after retries: %w", err)
	}

	seen := make(map[string]bool)
	var assets []string
	collect := func(raw string) {
		if raw == "" {
			return
		}
		ref, parseErr := url.Parse(raw)
		if parseErr != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		// Third-party assets are the CDN's problem, not the cache's.
		if resolved.Host != base.Host {
			return
		}
		resolved.Fragment = ""
		abs := resolved.String()
		if abs == shellURL || seen[abs] {
			return
		}
		seen[abs] = true
		assets = append(assets, abs)
	}

	doc.Find("link[href]").Each(func(_ int, sel *goquery.Selection) {
		rel, _ := sel.Attr("rel")
		if rel == "stylesheet" || rel == "icon" || rel == "manifest" || rel == "apple-touch-icon" {
			href, _ := sel.Attr("href")
			collect(href)
		}
	})
	doc.Find("script[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		collect(src)
	})
	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		collect(src)
	})

	s.logger.Info("Shell assets discovered", "url", shellURL, "count", len(assets))
	return assets, nil
}
