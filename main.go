package main

import "github.com/qobs-build/qext/cmd"

func main() {
	cmd.Execute()
}
