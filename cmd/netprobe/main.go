// Command netprobe probes TCP, UDP and ICMP targets concurrently.
package main

import "github.com/anstrom/netprobe/cmd/cli"

// Build information, set by ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
