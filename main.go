package main

import "github.com/embedbatch/embedbatch/cmd"

func main() {
	cmd.Execute()
}
