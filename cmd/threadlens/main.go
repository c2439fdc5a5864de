package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"threadlens/internal/logging"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load(".env")

	app := newCLIApp(nil)
	err := app.Run(os.Args)
	logging.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
