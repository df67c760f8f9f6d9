package main

import (
	"marketwatcher/internal/cli"
)

func main() {
	cli.Execute()
}
