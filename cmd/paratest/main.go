package main

import "paratest/cmd/cli"

func main() {
	cli.Execute()
}
