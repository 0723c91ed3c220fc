package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	// SQLite registry snapshots (registry.driver: sqlite3).
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/usertrack/internal/cli"
)

var version = "dev"

func main() {
	root := cli.NewRootCommand()
	root.Version = version

	err := root.ExecuteContext(context.Background())
	if err != nil {
		// Commands report their own failures; cobra's usage errors are not.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	os.Exit(cli.GetExitCode(err))
}
