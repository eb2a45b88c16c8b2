package main

import "github.com/railzwaylabs/experiment-broker/internal/cli"

func main() {
	cli.Execute()
}
