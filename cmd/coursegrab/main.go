package main

import "github.com/example/coursegrab/cmd"

func main() {
	cmd.Execute()
}
