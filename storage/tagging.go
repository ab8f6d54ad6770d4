package storage

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// tagHTTPClient is shared across plugins; tagging is best-effort so a
// short timeout is enough, grounded on database.py's tag() which never
// waits for its POST to matter to the caller.
var tagHTTPClient = &http.Client{Timeout: 5 * time.Second}

// tagOverHTTP fire-and-forgets a POST to ${graphiteURL}/tags/tagSeries
// with a form field path=<metric>, spec §4.6's tag() capability. Errors
// are logged, never propagated — TagIndexError per spec §7.
func tagOverHTTP(ctx context.Context, graphiteURL, metric string) {
	if graphiteURL == "" {
		return
	}
	endpoint := strings.TrimRight(graphiteURL, "/") + "/tags/tagSeries"
	form := url.Values{"path": {metric}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		log.Printf("storage: tag %s: build request: %v", metric, err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tagHTTPClient.Do(req)
	if err != nil {
		log.Printf("storage: tag %s: %v", metric, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		log.Printf("storage: tag %s: indexing service returned %s", metric, resp.Status)
	}
}
