package envutil

import (
	"os"
	"strings"
)

// IsDev reports whether MELODY_ENV selects development mode, in which
// session cookies are written without the Secure attribute so the flow
// works over plain http://127.0.0.1.
func IsDev() bool {
	env := strings.ToLower(os.Getenv("MELODY_ENV"))
	return env == "development" || env == "dev"
}
