package vmi

import "os"

// isCI reports whether tests are running in a CI environment.
func isCI() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}
