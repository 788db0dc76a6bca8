package completion

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// TransportError is returned when the completion service cannot be reached or
// answers with a non-2xx status. It matches errdefs.IsUnavailable.
type TransportError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion request failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("completion request failed: %v", e.Err)
}

// Unwrap exposes both the cause and the errdefs class.
func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{errdefs.ErrUnavailable}
	}
	return []error{e.Err, errdefs.ErrUnavailable}
}

// MalformedResponseError is returned when the response body is not JSON.
// It matches errdefs.IsDataLoss.
type MalformedResponseError struct {
	Body []byte
	Err  error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("decode completion response: %v", e.Err)
}

// Unwrap exposes both the cause and the errdefs class.
func (e *MalformedResponseError) Unwrap() []error {
	return []error{e.Err, errdefs.ErrDataLoss}
}
