package n8n

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	// ErrTimeout is returned when the instance does not answer in time.
	ErrTimeout = errors.New("Connection timeout - please check your n8n URL and network")
	// ErrUnreachable is returned for DNS and dial failures.
	ErrUnreachable = errors.New("Cannot reach n8n instance - please check your URL")
)

// APIError is a non-2xx answer from the instance.
type APIError struct {
	StatusCode int
	Body       string
}

func newAPIError(status int, body []byte) *APIError {
	return &APIError{StatusCode: status, Body: strings.TrimSpace(string(body))}
}

func (e *APIError) Error() string {
	return StatusMessage(e.StatusCode)
}

// Detail includes the response body for logs.
func (e *APIError) Detail() string {
	if e.Body == "" {
		return e.Error()
	}
	return fmt.Sprintf("%s: %s", e.Error(), e.Body)
}

// StatusMessage maps an HTTP status to the message shown to operators.
func StatusMessage(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "Invalid API key - please check your n8n API key"
	case http.StatusNotFound:
		return "n8n API endpoint not found - please check your URL"
	case http.StatusForbidden:
		return "API access forbidden - please check your API key permissions"
	case http.StatusInternalServerError:
		return "n8n server error - please check your n8n instance"
	default:
		return fmt.Sprintf("Connection failed with status %d", status)
	}
}

// IsStatus reports whether err is an APIError carrying status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return err
}

// Message returns the operator-facing text for any client error.
func Message(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &apiErr):
		return apiErr.Error()
	case errors.Is(err, ErrTimeout):
		return ErrTimeout.Error()
	case errors.Is(err, ErrUnreachable):
		return ErrUnreachable.Error()
	default:
		return err.Error()
	}
}
