//go:build js && wasm

package server

import (
	"net/http"
	"time"
)

// NewHTTPClient returns a client backed by the Workers fetch API. Timeouts
// are left to request contexts; the runtime enforces its own limits.
func NewHTTPClient(time.Duration) HTTPClient {
	return &http.Client{}
}
