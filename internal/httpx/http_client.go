package httpx

import (
	"net/http"
	"time"
)

const defaultExternalHTTPTimeout = 30 * time.Second

var externalHTTPClient = &http.Client{
	Timeout: defaultExternalHTTPTimeout,
}

// ExternalHTTPClient is shared by every outbound API client. The per-request
// deadline is set by the caller's context; the client timeout is a backstop.
func ExternalHTTPClient() *http.Client {
	return externalHTTPClient
}

func ConfigureExternalHTTPClient(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = defaultExternalHTTPTimeout
	}
	externalHTTPClient.Timeout = timeout
	return timeout
}
