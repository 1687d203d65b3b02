package main

import (
	"os"

	"github.com/GilMM/caseflow/internal/cli"
)

func main() {
	cli.InitCLI()
	os.Exit(cli.ExecuteWithErrorCode(os.Args[1:]))
}
