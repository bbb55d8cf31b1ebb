// Package main provides the entry point for the mail2ragd daemon.
package main

import (
	"os"

	"github.com/Aman-CERP/mail2rag/cmd/mail2ragd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
