package main

import (
	"log"

	"github.com/joho/godotenv"

	"perch/cmd/internal/app"
)

func main() {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
