package main

import (
	"context"
	"os"

	"github.com/dyike/CortexQuant/internal/cli"
)

func main() {
	os.Exit(cli.Run(context.Background()))
}
