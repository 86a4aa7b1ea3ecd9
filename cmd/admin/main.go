package main

import (
	"fmt"
	"os"

	"sessiontrack/internal/admincli"
	"sessiontrack/internal/config"
)

func main() {
	if err := admincli.NewRootCommand(config.Load).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
