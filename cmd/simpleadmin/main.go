package main

import (
	"fmt"
	"os"

	"github.com/NicolasHaas/simpleadmin/cmd/simpleadmin/cli"
	"github.com/NicolasHaas/simpleadmin/pkg/version"
)

func main() {
	if err := cli.Execute(version.String(), version.Commit(), version.Date()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
