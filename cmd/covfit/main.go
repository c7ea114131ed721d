package main

import (
	"fmt"
	"os"

	"github.com/zjy-dev/covfit/cmd/covfit/app"
)

func main() {
	if err := app.NewCovfitCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
