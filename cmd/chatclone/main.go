package main

import "github.com/nextlevelbuilder/chatclone/cmd"

func main() {
	cmd.Execute()
}
