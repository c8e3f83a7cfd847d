package main

import (
	"os"

	"github.com/zjy-dev/sqlforge/cmd/sqlforge/app"
)

func main() {
	cmd := app.NewSQLForgeCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
