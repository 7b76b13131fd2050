package main

import (
	"context"
	"flag"
	"fmt"
	"os"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 {
		switch args[0] {
		case "up":
			return runUp(args[1:])
		case "serve":
			return runServe(args[1:])
		case "version", "--version", "-version":
			fmt.Printf("stackup %s (built %s)\n", Version, BuildTime)
			return ExitSuccess
		case "help", "--help", "-h":
			printUsage()
			return ExitSuccess
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
			printUsage()
			return ExitConfigError
		}
	}

	// No subcommand defaults to serve mode.
	return runServe(args)
}

func printUsage() {
	fmt.Print(`Usage: stackup <command> [flags]

Commands:
  up       Start a compose plan and wait for it to settle
  serve    Run the HTTP API server
  version  Print version and exit

Run "stackup <command> -h" for command flags.
`)
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return ExitConfigError
	}

	// Load configuration
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	// Setup logger
	logger := SetupLogger(cfg)
	logger.Info("starting stackup",
		"version", Version,
		"config", *configPath,
	)

	// Create server
	server, err := NewServer(cfg, logger)
	if err != nil {
		if sErr, ok := err.(*ServerError); ok {
			logger.Error("failed to create server",
				"error", sErr.Err,
				"operation", sErr.Op,
			)
			return sErr.ExitCode
		}
		logger.Error("failed to create server", "error", err)
		return ExitConfigError
	}

	// Start server
	ctx := context.Background()
	if err := server.Start(ctx); err != nil {
		if sErr, ok := err.(*ServerError); ok {
			logger.Error("server error",
				"error", sErr.Err,
				"operation", sErr.Op,
			)
			return sErr.ExitCode
		}
		logger.Error("server error", "error", err)
		return ExitConfigError
	}

	return ExitSuccess
}
