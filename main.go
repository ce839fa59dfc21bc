package main

import "fhgateway/cmd"

func main() {
	cmd.Run()
}
