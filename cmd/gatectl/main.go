package main

import (
	"os"

	gatectlcmd "github.com/telekom/admission-gateway/pkg/gatectl/cmd"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := gatectlcmd.NewRootCommand(gatectlcmd.DefaultConfig())
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
