package main

import "github.com/nammalakes/nodeup/internal/cli"

func main() {
	cli.Execute()
}
