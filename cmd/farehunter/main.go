package main

import (
	"fare-hunter/internal/cli"
)

func main() {
	cli.Execute()
}
