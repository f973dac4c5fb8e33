package main

import "github.com/nextlevelbuilder/cardswap/cmd"

func main() {
	cmd.Execute()
}
