package satellite

import "fmt"

// ClientError is a terminal 4xx failure. The request was malformed or
// rejected; it is never retried and is surfaced to the user as-is.
type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request rejected (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("request rejected (HTTP %d)", e.StatusCode)
}

// ServerError is a 5xx failure. The backend accepted the request but failed
// to process it; retried up to the attempt bound before being surfaced.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server failure (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server failure (HTTP %d)", e.StatusCode)
}

// NetworkError is a transport-level failure (connection refused, timeout,
// DNS). Retried like a server failure.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// DataUnavailableError marks a well-formed response that carries no data for
// the requested month or area. It is rendered as an explicit "no data" state,
// not as an error.
type DataUnavailableError struct {
	Kind  string
	Month string
}

func (e *DataUnavailableError) Error() string {
	if e.Month != "" {
		return fmt.Sprintf("no %s data available for %s", e.Kind, e.Month)
	}
	return fmt.Sprintf("no %s data available", e.Kind)
}

// retryable reports whether an error may succeed on a later attempt
func retryable(err error) bool {
	switch err.(type) {
	case *ServerError, *NetworkError:
		return true
	}
	return false
}
