package main

import "palicanon/internal/cli"

func main() {
	cli.Execute()
}
