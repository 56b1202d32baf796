// Package main provides the entry point for the mediashelf device.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mediashelf/mediashelf/internal/cli"
	domainerrors "github.com/mediashelf/mediashelf/internal/errors"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", domainerrors.CodeOf(err), err)
		os.Exit(1)
	}
}
