// Package main provides the whisperd speech-to-text server.
//
// Usage:
//
//	whisperd serve [--config path] [--schema path] [--http-port n] [--grpc-port n]
//	whisperd version
package main

import (
	"fmt"
	"os"

	"github.com/ekisa-team/whisperd/cmd/whisperd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
