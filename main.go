package main

import "github.com/mazuri-stores/mazuri-api/cmd"

func main() {
	cmd.Execute()
}
