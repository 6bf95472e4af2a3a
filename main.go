package main

import "github.com/jaysalvat/needle/build-tools/cmd"

func main() {
	cmd.Execute()
}
