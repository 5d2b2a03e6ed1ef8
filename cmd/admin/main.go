package main

import (
	"context"
	"os"

	"github.com/dmitrijs2005/finkeeper/internal/server/admin"
)

func main() {
	os.Exit(admin.Execute(context.Background()))
}
