package ioutil

import (
	"fmt"
	"io"
	"strings"
)

// ErrorBodyLimit caps how much of a provider error body is kept for diagnostics
const ErrorBodyLimit = 4096

// ReadLimited reads up to limit bytes from r and returns them as a trimmed string.
// A read failure is described in the returned string rather than swallowed, since
// the result only ever ends up in error values and server-side logs.
func ReadLimited(r io.Reader, limit int64) string {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	return strings.TrimSpace(string(body))
}

// ReadErrorBody reads a provider error response body with the default limit
func ReadErrorBody(r io.Reader) string {
	return ReadLimited(r, ErrorBodyLimit)
}
