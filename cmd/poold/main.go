package main

import (
	"flag"
	"log"

	"github.com/anthanhphan/go-audio-node-pool/internal/pool/app"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "configPath", "", "Path to configuration file")
	flag.Parse()

	application, err := app.New(configPath)
	if err != nil {
		log.Fatalf("Failed to initialize node pool: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("Node pool failed: %v", err)
	}
}
