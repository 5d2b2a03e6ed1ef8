package main

import (
	"context"
	"os"

	"github.com/dmitrijs2005/finkeeper/internal/client/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background()))
}
