package main

import (
	"fmt"
	"os"

	"github.com/rudransh-shrivastava/peer-mesh/internal/cli"
)

func main() {
	if err := cli.NewSignalCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
