package app

import (
	"os"
	"sync"
)

// TestModeEnv makes the binaries exit before opening any backend.
const TestModeEnv = "ODYSSEY_TEST_MODE"

var testMode = sync.OnceValue(func() bool { return os.Getenv(TestModeEnv) == "1" })

// InTestMode reports whether TestModeEnv was set when first checked.
func InTestMode() bool {
	return testMode()
}
