package main

import "github.com/code-sleuth/fitkb-go/cmd"

func main() {
	cmd.Execute()
}
