// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/vng_computer/internal/app"
	"github.com/relabs-tech/vng_computer/internal/config"
)

func main() {
	configPath := flag.String("config", "vng_config.txt", "path to config file")
	serial := flag.Bool("serial", false, "own the SIEV serial link for calibration LED cues")
	flag.Parse()

	log.Println("starting vng-computer web server (MQTT subscriber)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log.Println("Note: calibration requires the recorder to be running")

	if err := app.RunWeb(*serial); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
