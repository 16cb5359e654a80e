// Package main is the entry point for the dust server.
//
// main stays minimal: configuration, wiring and the commands themselves
// live in internal/cli, so `dust serve`, `dust migrate` and `dust grant`
// share one binary.
package main

import "github.com/sakif/dust/internal/cli"

func main() {
	cli.Execute()
}
