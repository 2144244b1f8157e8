package main

import "flightwatch/internal/cli"

func main() {
	cli.Execute()
}
