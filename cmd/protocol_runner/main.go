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
	noHardware := flag.Bool("no-hardware", false, "run LED protocols without the goggles attached")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatalf("usage: protocol_runner [flags] <protocol.json>")
	}

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunProtocol(flag.Arg(0), *noHardware); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
