package main

import "github.com/fleetdeck/bridge-dispatch/cmd"

func main() {
	cmd.Execute()
}
