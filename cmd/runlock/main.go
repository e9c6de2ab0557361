package main

import (
	"os"

	"github.com/psantana5/runlock/cmd/runlock/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
