// cukedash serves a dashboard API for running Cucumber feature modules.
//
// Usage:
//
//	cukedash serve --port 3001
//	cukedash modules
//	cukedash run -m login --tags @P1
//
// See cukedash --help for every command.
package main

import (
	"context"
	"os"

	"github.com/dkoosis/cukedash/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
