package main

import (
	"os"

	"github.com/vault-cli/lockbox/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
