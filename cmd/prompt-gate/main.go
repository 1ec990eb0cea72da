package main

import "github.com/Prompt-Gate/Promptgate/cmd/prompt-gate/cmd"

func main() {
	cmd.Execute()
}
