package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/vng_computer/internal/app"
	"github.com/relabs-tech/vng_computer/internal/config"
)

func main() {
	configPath := flag.String("config", "vng_config.txt", "path to config file")
	flag.Parse()

	log.Println("starting vng-computer status display")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunDisplay(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
