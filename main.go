package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"invoicesync/cmd"
	"invoicesync/internal/config"
	"invoicesync/internal/logger"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Commands reload the configuration with their own --config flag; this
	// only gets logging up before flag parsing.
	cfg, err := config.Load(os.Getenv(cmd.ConfigEnv))
	if err != nil {
		log.Printf("Warning: Could not load configuration: %v", err)
		if err := logger.Setup(logger.DefaultConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	} else if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	mainLog := logger.WithComponent("main")
	mainLog.Debug().Msg("Starting invoicesync")

	cmd.Execute()
}
