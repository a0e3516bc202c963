// Command duckgate runs the statement gateway server and local query CLI.
package main

import (
	"os"

	"duckgate/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
