package client

import "fmt"

// ConnectionError reports that the proxy server could not be reached at
// the transport level. Retrying may succeed once the server is up.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to proxy server at %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// GenerationError reports that the server was reachable but rejected or
// failed the request. Retrying the same request is unlikely to help.
type GenerationError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s failed: HTTP %d - %s", e.Op, e.Status, e.Body)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
