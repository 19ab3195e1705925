package main

import "filemesh/cmd"

func main() {
	cmd.Run()
}
