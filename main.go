package main

import "github.com/trobanga/hermes/cmd"

func main() {
	cmd.Execute()
}
