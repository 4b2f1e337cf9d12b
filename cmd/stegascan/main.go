package main

import "github.com/glimps-re/stegascan/cmd/cli"

func main() {
	cli.Main()
}
