// forge calculates financial models written in YAML or TOML.
package main

import (
	"os"

	"github.com/mollendorff-ai/forge/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
