package main

import "github.com/pablintino/deploy-executor/cmd"

func main() {
	cmd.Execute()
}
