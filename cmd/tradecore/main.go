package main

import "github.com/rustyeddy/tradecore/cmd/tradecore/cmd"

func main() {
	cmd.Execute()
}
