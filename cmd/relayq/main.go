package main

import "github.com/relayq/relayq/pkg/cli"

func main() {
	cli.Execute(cli.NewRootCommand())
}
