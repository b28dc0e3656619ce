// Command lbsctl is the operator tool for the routing service: it validates
// configuration snapshots, dry-runs rule matching and inspects or resets the
// shared coordination state.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lbsctl:", err)
		os.Exit(1)
	}
}
