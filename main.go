package main

import "github.com/Jakob98-code/distance-tracker/cmd"

func main() {
	cmd.Run()
}
