package main

import "github.com/spicysparks/sparks-client/internal/ui"

func main() {
	ui.InitTerminal()

	Execute()
}
