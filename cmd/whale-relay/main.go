package main

import "whale-relay/internal/cli"

func main() {
	cli.Execute()
}
