package server

import "net/http"

// copyResponseHeaders copies the headers of a passthrough answer worth
// forwarding to the browser
func copyResponseHeaders(dst http.Header, contentType string) {
	if contentType == "" {
		contentType = "application/json"
	}
	dst.Set("Content-Type", contentType)
	dst.Set("Cache-Control", "no-store")
}
