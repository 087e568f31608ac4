// Package netutil holds small HTTP helpers shared by any component that
// downloads a body under a byte ceiling: the WeCom attachment pipeline and
// the web-fetch tool both need "stream this URL, but bail before reading
// past N bytes" and neither owns the other, so the logic lives here once.
package netutil

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single capped download; callers needing a longer
// timeout should pass their own *http.Client to GetCapped instead of nil.
const DefaultTimeout = 30 * time.Second

// ErrTooLarge is returned by GetCapped when the body (declared or actual)
// exceeds the configured limit.
type ErrTooLarge struct {
	DeclaredSize int64
	Limit        int64
}

func (e *ErrTooLarge) Error() string {
	return fmt.Sprintf("netutil: body size %d exceeds limit %d", e.DeclaredSize, e.Limit)
}

// GetCapped issues a GET against url and reads at most limit+1 bytes of the
// body. If the server declares a Content-Length over limit, the body is
// never read and ErrTooLarge is returned immediately. If the declared length
// is absent or under the limit but the actual body turns out larger,
// ErrTooLarge is returned after the fact with DeclaredSize set to -1.
func GetCapped(client *http.Client, url string, limit int64) ([]byte, error) {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("netutil: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.ContentLength > 0 && resp.ContentLength > limit {
		return nil, &ErrTooLarge{DeclaredSize: resp.ContentLength, Limit: limit}
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("netutil: GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("netutil: reading body of %s: %w", url, err)
	}
	if int64(len(body)) > limit {
		return nil, &ErrTooLarge{DeclaredSize: -1, Limit: limit}
	}
	return body, nil
}
