package main

import (
	"flag"
	"log"
	"os"

	"github.com/bookoftales/tales/internal/app"
	"github.com/bookoftales/tales/internal/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("TALES_CONFIG"), "path to the YAML configuration file")
	envFile := flag.String("env-file", "", "optional dotenv file, overridden by the real environment")
	flag.Parse()

	a, err := app.New(config.Sources{File: *configPath, DotEnv: *envFile})
	if err != nil {
		log.Fatalf("❌ tales failed to start: %v", err)
	}
	if err := a.Run(); err != nil {
		log.Fatalf("❌ tales failed: %v", err)
	}
}
