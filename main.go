package main

import "github.com/kozaktomas/frameprep/cmd"

func main() {
	cmd.Execute()
}
