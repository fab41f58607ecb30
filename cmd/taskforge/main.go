package main

import "github.com/marcus/taskforge/cmd/taskforge/commands"

func main() {
	commands.Execute()
}
