package main

import "palmcontroller/cmd/palmctl/command"

func main() {
	command.Execute()
}
