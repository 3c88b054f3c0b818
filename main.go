package main

import "github.com/ArcaView/qualifyr/cli"

func main() {
	cli.Execute()
}
