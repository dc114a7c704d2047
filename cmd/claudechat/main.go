package main

import (
	"context"
	"fmt"
	"os"
)

const version = "1.0.0"

func main() {
	if err := rootCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
