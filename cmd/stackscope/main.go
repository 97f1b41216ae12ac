package main

import (
	"os"

	"github.com/charliek/stackscope/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
