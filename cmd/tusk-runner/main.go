package main

import "github.com/tusk-run/tusk-runner/internal/cli"

func main() {
	cli.Execute()
}
