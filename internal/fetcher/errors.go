package fetcher

import (
	"fmt"
	"net/http"
)

// FeedFetchError describes a failed GET for a single feed.
type FeedFetchError struct {
	Source     string
	URL        string
	StatusCode int // 0 when the request never produced a response
	Err        error
}

func (e *FeedFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (%s): http status %d", e.Source, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s (%s): %v", e.Source, e.URL, e.Err)
}

func (e *FeedFetchError) Unwrap() error { return e.Err }

// Transient reports whether retrying the request may succeed.
func (e *FeedFetchError) Transient() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusTooEarly,
		e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}
