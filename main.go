package main

import "github.com/nextlevelbuilder/salesclaw/cmd"

func main() {
	cmd.Execute()
}
