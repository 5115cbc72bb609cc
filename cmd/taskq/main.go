// Command taskq is the operator CLI for the job queue: it enqueues
// command jobs, inspects queue state, manages the dead letter queue,
// and runs worker pools.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "taskq:", err)
		os.Exit(1)
	}
}
