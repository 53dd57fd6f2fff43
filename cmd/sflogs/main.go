package main

import (
	"flag"
	"fmt"
	"os"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var targetOrg string
	var showVersion bool
	var headless bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/sflogs/config.yml)")
	flag.StringVar(&targetOrg, "target-org", "", "sf CLI org alias or username (default is the CLI's default org)")
	flag.BoolVar(&headless, "headless", false, "run without the terminal UI (HTTP API and socket only)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("sflogs - Apex Debug Log Viewer\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if targetOrg != "" {
		cfg.TargetOrg = targetOrg
	}
	if headless {
		cfg.Headless = true
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
