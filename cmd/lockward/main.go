package main

import "github.com/ppiankov/lockward/internal/cli"

func main() {
	cli.Execute()
}
