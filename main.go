package main

import "github.com/audiolibrelab/practicelog/cmd"

func main() {
	cmd.Execute()
}
