package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"queue-sync/src/config"
	"queue-sync/src/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// -----------------------------------------------------------------------------

func main() {

	// 1. Parse command line flags
	flagSet := pflag.NewFlagSet("queue-sync", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "config/default.yaml", "path to config file")
	envFile := flagSet.String("env-file", ".env", "optional dotenv file with QUEUESYNC_* overrides")
	date := flagSet.String("date", "", "subscribe to this date (YYYY-MM-DD) on startup")
	services := flagSet.StringSlice("services", nil, "service ids to preselect")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	// 2. Environment overrides from .env (missing file is fine)
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", *envFile, err)
	}

	// 3. Load config from YAML file
	conf, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 4. Setup logger
	appLogger := logger.NewLogger(conf.MConfig, conf.Name)
	defer appLogger.Sync()

	// 5. Setup Components
	app, err := setupApp(conf, appLogger)
	if err != nil {
		appLogger.Critical("Failed to set up: %v", err)
		return
	}
	defer app.close()

	// 6. Start servers
	startServers(app, appLogger)

	// 7. Optional initial selection
	if *date != "" || len(*services) > 0 {
		app.preselect(*date, *services)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	appLogger.Info("%s ready for business %s", conf.Name, conf.Backend.BusinessID)
	<-quit
	appLogger.Info("Shutting down...")
}
