// Package main is the entry point for gaia, the greenhouse engine that
// manages sensors, lights, climate regulation and health cameras for a
// set of configured ecosystems with minimal human intervention.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vaamb/gaia/internal/engine"
	"github.com/vaamb/gaia/internal/gaiaconfig"
	"github.com/vaamb/gaia/internal/logging"
)

// main dispatches on os.Args[1] between the three subcommands this
// module supports: the implicit "gaia" (run the engine), "validate_configs"
// and "generate_default_configs". No subcommand is equivalent to "gaia".
func main() {
	cmd := "gaia"
	args := os.Args[1:]
	if len(args) > 0 && !looksLikeFlag(args[0]) {
		cmd = args[0]
		args = args[1:]
	}

	var err error
	switch cmd {
	case "gaia":
		err = runGaia(args)
	case "validate_configs":
		err = runValidateConfigs(args)
	case "generate_default_configs":
		err = runGenerateDefaultConfigs(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func looksLikeFlag(s string) bool {
	return len(s) > 0 && s[0] == '-'
}

// runGaia loads the configuration, starts the engine and blocks until a
// termination signal is received, then shuts it down gracefully.
func runGaia(args []string) error {
	fs := flag.NewFlagSet("gaia", flag.ExitOnError)
	var dataDirFlag string
	fs.StringVar(&dataDirFlag, "data-dir", "", "gaia data directory (overrides GAIA_DIR environment variable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := engine.Load(dataDirFlag)
	if err != nil {
		fallbackLog := logging.New(logging.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: true})
	log.Info().Msg("starting gaia")

	eng, err := engine.New(cfg, log)
	if err != nil {
		return fmt.Errorf("gaia: %w", err)
	}

	if cfg.UseDatabase || cfg.CommunicateWithAggregator {
		if err := eng.InitPlugins(); err != nil {
			return fmt.Errorf("gaia: %w", err)
		}
	}

	if err := eng.Start(); err != nil {
		return fmt.Errorf("gaia: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutdown signal received")
	if err := eng.Stop(); err != nil {
		log.Error().Err(err).Msg("error while shutting down gaia")
	}
	time.Sleep(100 * time.Millisecond)
	log.Info().Msg("gaia has stopped")
	return nil
}

// runValidateConfigs loads ecosystems.cfg and private.cfg from the data
// directory and reports any validation error, without starting the engine.
func runValidateConfigs(args []string) error {
	fs := flag.NewFlagSet("validate_configs", flag.ExitOnError)
	var dataDirFlag string
	var verbose bool
	fs.StringVar(&dataDirFlag, "data-dir", "", "gaia data directory (overrides GAIA_DIR environment variable)")
	fs.BoolVar(&verbose, "v", false, "print each loaded ecosystem uid")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := engine.Load(dataDirFlag)
	if err != nil {
		return fmt.Errorf("validate_configs: %w", err)
	}

	root, err := gaiaconfig.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("validate_configs: %w", err)
	}
	if err := root.LoadPrivate(); err != nil {
		return fmt.Errorf("validate_configs: %w", err)
	}
	if err := root.LoadEcosystems(); err != nil {
		return fmt.Errorf("validate_configs: %w", err)
	}
	if errs := gaiaconfig.Validate(root); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e)
		}
		return fmt.Errorf("validate_configs: %d error(s) found", len(errs))
	}

	uids := root.EcosystemUIDs()
	if verbose {
		for _, uid := range uids {
			fmt.Printf("ecosystem %s: ok\n", uid)
		}
	}
	fmt.Printf("%d ecosystem(s) validated\n", len(uids))
	return nil
}

// runGenerateDefaultConfigs writes empty-but-valid ecosystems.cfg and/or
// private.cfg files for a fresh data directory, leaving existing files
// untouched.
func runGenerateDefaultConfigs(args []string) error {
	fs := flag.NewFlagSet("generate_default_configs", flag.ExitOnError)
	var dataDirFlag string
	var withEcosystem, withPrivate bool
	fs.StringVar(&dataDirFlag, "data-dir", "", "gaia data directory (overrides GAIA_DIR environment variable)")
	fs.BoolVar(&withEcosystem, "ecosystem", true, "generate ecosystems.cfg if missing")
	fs.BoolVar(&withPrivate, "private", true, "generate private.cfg if missing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := engine.Load(dataDirFlag)
	if err != nil {
		return fmt.Errorf("generate_default_configs: %w", err)
	}

	if err := gaiaconfig.GenerateDefaults(cfg.DataDir, withEcosystem, withPrivate); err != nil {
		return fmt.Errorf("generate_default_configs: %w", err)
	}
	fmt.Printf("default configs generated in %s\n", cfg.DataDir)
	return nil
}
