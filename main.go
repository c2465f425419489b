package main

import "kharomchat/cmd"

func main() {
	cmd.Execute()
}
