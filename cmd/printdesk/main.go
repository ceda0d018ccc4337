package main

import (
	"os"

	_ "time/tzdata"

	"github.com/orrn/printdesk/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}
