package main

import "github.com/agent-warden/warden/cmd/warden/cmd"

func main() {
	cmd.Execute()
}
