package buildinfo

import "fmt"

// Set with -ldflags "-X github.com/zerfoo/zort/internal/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func String() string {
	return fmt.Sprintf("zort %s (commit=%s, date=%s)", Version, Commit, Date)
}
