package main

import "github.com/verdictlabs/verdict/internal/cli"

func main() {
	cli.Execute()
}
