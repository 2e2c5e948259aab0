package main

import (
	"fmt"
	"os"

	"civic-complaint-system/services/slactl/cli"
)

func main() {
	if err := cli.RootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
