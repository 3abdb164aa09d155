// pulsescan is a bounded-concurrency, rate-limited IPv4 TCP connect
// prober. All command handling lives in the cli package.
package main

import "github.com/pulsenet/pulsescan/cmd/cli"

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
