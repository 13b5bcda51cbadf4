package main

import "github.com/oshokin/eve-alert/cmd/eve-alert/cmd"

func main() {
	cmd.Execute()
}
