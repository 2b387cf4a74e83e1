package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rzbill/flobus/internal/cmd/cli"
)

func main() {
	if err := cli.NewRoot().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
