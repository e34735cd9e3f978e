package main

import "github.com/gridmind/gridnode/cmd"

func main() {
	cmd.Execute()
}
