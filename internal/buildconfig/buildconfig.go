// Package buildconfig exposes build metadata stamped at link time:
//
//	go build -ldflags "-X github.com/stratumhq/stratum/internal/buildconfig.version=v0.3.0"
package buildconfig

var (
	version = "dev"
	commit  = "unknown"
)

// Version is the release tag baked into the binary, or "dev" for local
// builds.
func Version() string { return version }

// Commit is the git revision the binary was built from.
func Commit() string { return commit }
