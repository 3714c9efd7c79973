package assistantapi

import (
	"errors"
	"net/http"

	openaigo "github.com/openai/openai-go"
	"github.com/sashabaranov/go-openai"
)

// ErrNotFound is returned by callers that want a typed "already gone" outcome.
var ErrNotFound = errors.New("remote object not found")

// IsNotFound reports whether err is a 404 from either SDK, or wraps ErrNotFound.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusNotFound
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusNotFound
	}
	var goErr *openaigo.Error
	if errors.As(err, &goErr) {
		return goErr.StatusCode == http.StatusNotFound
	}
	return false
}

// IgnoreNotFound maps a 404 to nil so remote deletes of missing objects succeed.
func IgnoreNotFound(err error) error {
	if IsNotFound(err) {
		return nil
	}
	return err
}
