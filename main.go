package main

import "github/chapool/chain-sweeper/cmd"

func main() {
	cmd.Execute()
}
