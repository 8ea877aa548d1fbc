// Package main is the entry point for the anticorruption documents assistant.
package main

import (
	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/anticorruption-bot/internal/assistant"
)

func main() {
	// .env 可选，已存在的环境变量优先
	_ = godotenv.Load()

	assistant.NewApp().Run()
}
