// Package main provides matchctl, a command-line client for the matchmaking
// server and its stats database.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
