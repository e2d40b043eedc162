package main

import "tunevault/cmd"

func main() {
	cmd.Execute()
}
