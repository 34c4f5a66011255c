package main

import "github.com/arteapos/possync/cmd/possync/cmd"

func main() {
	cmd.Execute()
}
