// Package main is the kanrun entry point: the HTTP server with the executor
// profile endpoints and the scheduled execution poller, plus CLI commands that
// operate on the same database.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
