package main

import (
	"context"
	"fmt"
	"os"

	"github.com/core-tools/hsu-launcher-go/pkg/launcher"
	"github.com/core-tools/hsu-launcher-go/pkg/logging/zaplogging"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Config      string `long:"config" short:"c" description:"Configuration file path (YAML), defaults are used when omitted"`
	ResourceDir string `long:"resource-dir" description:"Directory holding the packaged backend (default: launcher directory)"`
	Headless    bool   `long:"headless" description:"Do not open a window; run until interrupted"`
	LogLevel    string `long:"log-level" description:"Log level: debug, info, warn, error"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s, ", module)
}

func main() {
	var opts flagOptions
	parser := flags.NewParser(&opts, flags.HelpFlag)
	if _, err := parser.ParseArgs(os.Args[1:]); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	config, err := launcher.LoadRunConfig(launcher.RunOptions{
		ConfigFile:  opts.Config,
		ResourceDir: opts.ResourceDir,
		Headless:    opts.Headless,
		LogLevel:    opts.LogLevel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	sugar, syncLogger, err := zaplogging.NewZapLogger(config.Launcher.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	logger := zaplogging.NewLogger(logPrefix("launcher"), sugar)
	host := launcher.NewHost(config, logger)

	err = launcher.Run(context.Background(), config, host, logger)
	if err != nil {
		logger.Errorf("Failed to run: %v", err)
		syncLogger()
		os.Exit(1)
	}

	syncLogger()
	os.Exit(0)
}
