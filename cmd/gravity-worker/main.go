package main

import cmd "github.com/rohmanhakim/gravity-worker/internal/cli"

func main() {
	cmd.Execute()
}
