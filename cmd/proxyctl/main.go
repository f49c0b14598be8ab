package main

import "proxysync/cmd/proxyctl/command"

func main() {
	command.Execute()
}
