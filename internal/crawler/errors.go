package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors surfaced through CrawlResult.Err and the storage layer.
var (
	ErrAlreadyVisited      = errors.New("already visited")
	ErrPolicyDisallowed    = errors.New("disallowed by robots policy")
	ErrEngineUnavailable   = errors.New("browser engine unavailable")
	ErrAllStrategiesFailed = errors.New("all fetch strategies failed")
	ErrTimeout             = errors.New("timed out")
	ErrInvalidURL          = errors.New("invalid url")
	ErrInvalidDataType     = errors.New("invalid data type")
	ErrConversionEmpty     = errors.New("conversion produced no content")
	ErrSaveFailed          = errors.New("save failed")
	ErrArchiveEntryMissing = errors.New("archive entry missing")
)

// HTTPStatusError reports a non-200 response from a plain GET.
type HTTPStatusError struct {
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// ClassifyTimeout tags deadline and network timeout errors with ErrTimeout.
func ClassifyTimeout(err error) error {
	if err == nil || errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
