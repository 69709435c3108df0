// Package version хранит данные сборки, которые подставляются через
// -ldflags "-X github.com/vladislavdragonenkov/checkout/internal/version.version=...".
package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GetVersion отдаётся в /healthz.
func GetVersion() string { return version }

// String — строка для стартового лога.
func String() string {
	return fmt.Sprintf("checkout version=%s commit=%s date=%s", version, commit, date)
}
