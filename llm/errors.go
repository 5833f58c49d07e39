package llm

import "fmt"

// APIError is an error returned by a provider backend. Status 0 means the
// request never got an HTTP response (connection failure, timeout).
type APIError struct {
	Provider string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
}

// Retryable reports whether the failure class is transient. Transport
// failures, rate limits and server errors are; 4xx requests are malformed
// on our side and retrying them only repeats the rejection.
func (e *APIError) Retryable() bool {
	return e.Status == 0 || e.Status == 429 || e.Status >= 500
}
