package main

import "depegshield/internal/cli"

func main() {
	cli.Execute()
}
