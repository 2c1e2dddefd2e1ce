package main

import "github.com/gluk-w/hopshell/internal/cli"

func main() {
	cli.Execute()
}
