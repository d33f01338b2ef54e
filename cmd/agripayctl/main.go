// Command agripayctl runs operator tasks against the agripay database and
// upstreams: migrations, API key bootstrap, and health checks.
package main

import "os"

func main() {
	if err := newRootCmd(defaultCLI()).Execute(); err != nil {
		os.Exit(1)
	}
}
