package main

import (
	"os"

	"github.com/koltyakov/arca-edge/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
