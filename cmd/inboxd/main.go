package main

import (
	"os"

	"github.com/joshsymonds/inboxd/internal/cli"
)

func main() {
	os.Exit(cli.Main(os.Args[1:]))
}
