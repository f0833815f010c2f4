package main

import "github.com/devicelab-dev/uia2-server/pkg/cli"

func main() {
	cli.Execute()
}
