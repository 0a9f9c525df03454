package main

import (
	"os"

	"github.com/pixelsort/taskwatch/cli"
)

func main() {
	os.Exit(cli.Execute())
}
