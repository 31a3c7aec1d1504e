// gatekeeper-admin is the operator CLI for the admission gateway: block
// list management, session revocation, and quota resets against the
// shared store.
package main

import (
	"fmt"
	"os"

	"github.com/tourwise/gatekeeper/cmd/gatekeeper-admin/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
