package main

import "github.com/muninstore/munin/cmd/munin/cmd"

func main() {
	cmd.Execute()
}
