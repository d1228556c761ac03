package main

import "CastShelf/cmd"

func main() {
	cmd.Execute()
}
