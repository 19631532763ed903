package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/ppiankov/crosspost/internal/cli"
	"github.com/ppiankov/crosspost/internal/logging"
)

func main() {
	// A missing .env is fine; explicit env vars always win.
	_ = godotenv.Load()
	logging.Init()

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
