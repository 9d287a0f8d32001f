// Command eventframe runs the event routing engine: the service node with its REST
// surface, a UI peer that mirrors events over the bridge, and a one-shot emitter.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
