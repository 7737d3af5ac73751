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
	mock := flag.Bool("mock", false, "use the synthetic pupil locator instead of the instrument")
	configPath := flag.String("config", "vng_config.txt", "path to config file")
	flag.Parse()

	log.Println("starting vng-computer recorder (sample producer)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunRecorder(*mock); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
