package main

import "github.com/Dominik1799/zm-mailbox/cmd"

func main() {
	cmd.Execute()
}
