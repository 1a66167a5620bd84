package main

import (
	"fmt"
	"os"
)

var buildVersion = "dev"

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
