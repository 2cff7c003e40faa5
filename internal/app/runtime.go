package app

import (
	"os"
	"strings"
)

const testModeEnv = "BACKOFFICE_TEST_MODE"

// InTestMode reports whether binaries should exit before opening any
// connection. Accepts "1" or "true".
func InTestMode() bool {
	v := strings.TrimSpace(os.Getenv(testModeEnv))
	return v == "1" || strings.EqualFold(v, "true")
}
