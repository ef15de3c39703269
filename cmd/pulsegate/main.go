package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/MrCodeEU/pulsegate/pkg/config"
	"github.com/MrCodeEU/pulsegate/pkg/logging"
)

const version = "0.1.0"

// Command represents a CLI command.
type Command struct {
	Name        string
	Description string
	Usage       string
	Run         func(args []string) error
}

var (
	cfg      *config.Config
	commands map[string]*Command
)

func init() {
	commands = map[string]*Command{
		"serve": {
			Name:        "serve",
			Description: "Run the liveness pipeline and the host API",
			Usage:       "pulsegate serve",
			Run:         cmdServe,
		},
		"captures": {
			Name:        "captures",
			Description: "List, export or delete captured stills",
			Usage:       "pulsegate captures [list | show <id> [-o file.jpg] | delete <id>]",
			Run:         cmdCaptures,
		},
		"models": {
			Name:        "models",
			Description: "Download face detector models",
			Usage:       "pulsegate models [pigo | dlib] [dir]",
			Run:         cmdDownloadModels,
		},
		"config": {
			Name:        "config",
			Description: "Show current configuration",
			Usage:       "pulsegate config",
			Run:         cmdConfig,
		},
		"version": {
			Name:        "version",
			Description: "Show version information",
			Usage:       "pulsegate version",
			Run:         cmdVersion,
		},
		"help": {
			Name:        "help",
			Description: "Show help information",
			Usage:       "pulsegate help [command]",
			Run:         cmdHelp,
		},
	}
}

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	args := flag.Args()

	var err error
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultConfig()
	}

	cfg.ExpandPaths()

	logLevel := cfg.Logging.Level
	if *debug {
		logLevel = "debug"
	}
	if err := logging.Init(logLevel, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	logging.Debugf("PulseGate v%s starting", version)
	logging.Debugf("Config loaded, data dir: %s", cfg.Capture.DataDir)

	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmdName)
		printUsage()
		os.Exit(1)
	}

	if err := cmd.Run(args[1:]); err != nil {
		logging.WithError(err).Errorf("Command '%s' failed", cmdName)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("PulseGate - Heart-rate liveness gate for webcam capture")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Usage: pulsegate [options] <command> [arguments]")
	fmt.Println("\nOptions:")
	fmt.Println("  -config <file>   Path to configuration file (.yaml or .toml)")
	fmt.Println("  -debug           Enable debug logging")
	fmt.Println("\nCommands:")
	for _, name := range []string{"serve", "captures", "models", "config", "version", "help"} {
		cmd := commands[name]
		fmt.Printf("  %-12s %s\n", cmd.Name, cmd.Description)
	}
	fmt.Println("\nExamples:")
	fmt.Println("  ffmpeg -f v4l2 -i /dev/video0 -f mjpeg pipe:1 | pulsegate serve")
	fmt.Println("  pulsegate -config lab.toml serve")
	fmt.Println("  pulsegate captures show <id> -o face.jpg")
	fmt.Println("\nRun 'pulsegate help <command>' for more information on a command.")
}

func cmdConfig(args []string) error {
	logging.Debugf("Showing configuration")

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: configuration is invalid: %v\n\n", err)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	fmt.Println("# Current Configuration")
	fmt.Print(string(out))
	return nil
}

func cmdVersion(args []string) error {
	fmt.Printf("PulseGate v%s\n", version)
	fmt.Println("Heart-rate liveness gate for webcam capture")
	fmt.Println()
	fmt.Println("Build Information:")
	fmt.Printf("  Go version: %s\n", runtime.Version())
	fmt.Printf("  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
	return nil
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}

	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s", cmdName)
	}

	fmt.Printf("Command: %s\n", cmd.Name)
	fmt.Printf("Description: %s\n", cmd.Description)
	fmt.Printf("Usage: %s\n", cmd.Usage)

	switch cmdName {
	case "serve":
		fmt.Println("\nInput:")
		fmt.Println("  source.input \"-\" reads a live MJPEG stream from stdin; a path names a FIFO.")
		fmt.Println("  Recorded files are refused; frames are stamped on arrival.")
		fmt.Println("\nHost API (server.listen):")
		fmt.Println("  GET  /api/v1/liveness        current verdict and heart rate")
		fmt.Println("  POST /api/v1/liveness/reset  start a fresh session")
		fmt.Println("  POST /api/v1/captures        store a still (only while confirmed)")
		fmt.Println("  GET  /api/v1/captures        list stored stills")
		fmt.Println("  GET  /api/v1/captures/:id    fetch a still as JPEG")
	case "models":
		fmt.Println("\nBackends:")
		fmt.Println("  pigo  downloads the facefinder cascade (pure Go, default)")
		fmt.Println("  dlib  downloads the go-face dlib models")
	case "config":
		fmt.Println("\nConfiguration Locations:")
		fmt.Println("  System: /etc/pulsegate/pulsegate.{yaml,toml}")
		fmt.Println("  User:   ~/.config/pulsegate/pulsegate.{yaml,toml}")
		fmt.Println("\nUse -config flag to specify a custom config file.")
	}

	return nil
}
