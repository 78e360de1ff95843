package main

import (
	"os"

	"github.com/jjnetworks/notify/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
