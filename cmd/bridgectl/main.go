package main

import (
	"os"

	"github.com/ggonzalez94/bridgectl/internal/app"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; keys may come from the environment directly.
	_ = godotenv.Load()
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
