package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Full returns the human-readable build identification line.
func Full() string {
	return fmt.Sprintf("podcast-insight %s, commit %s, built at %s", Version, Commit, Date)
}
