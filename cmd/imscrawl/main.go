// -----------------------------------------------------------------------
// Last Modified: Friday, 8th November 2025 4:00:00 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/common"
)

// configPaths is a custom flag type that allows multiple -config flags.
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

// Global state shared by the subcommands in serve.go/collect.go/query.go.
var (
	config *common.Config
	logger arbor.ILogger
)

func main() {
	defer common.RecoverWithCrashFile()
	common.LoadVersionFromFile()

	flags, subcommand, subArgs := parseFlags(os.Args[1:])

	if flags.showVersion {
		fmt.Printf("imscrawl version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner
	var err error

	configFiles := flags.configFiles
	if len(configFiles) == 0 {
		if _, statErr := os.Stat("imscrawl.toml"); statErr == nil {
			configFiles = append(configFiles, "imscrawl.toml")
		} else if _, statErr := os.Stat("deployments/local/imscrawl.toml"); statErr == nil {
			configFiles = append(configFiles, "deployments/local/imscrawl.toml")
		}
	}

	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		if len(configFiles) == 0 {
			tempLogger.Fatal().Err(err).Msg("failed to load configuration: no config file found")
		} else {
			tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("failed to load configuration files")
		}
		os.Exit(1)
	}

	common.ApplyFlagOverrides(config, flags.port, flags.host)

	logger = common.SetupLogger(config)
	defer common.Stop()

	common.PrintBanner(config, logger)

	switch subcommand {
	case "collect":
		runCollect(subArgs)
	case "query":
		runQuery(subArgs)
	case "serve", "":
		runServe()
	default:
		logger.Fatal().Str("subcommand", subcommand).Msg("unknown subcommand (expected serve, collect, or query)")
	}
}

type parsedFlags struct {
	configFiles configPaths
	port        int
	host        string
	showVersion bool
}

type flagSet struct {
	set          *flag.FlagSet
	configFiles  configPaths
	port         *int
	portP        *int
	host         *string
	showVersion  *bool
	showVersionV *bool
}

// newFlagSet builds a fresh *flag.FlagSet rather than registering onto the
// package-level flag.CommandLine, so it can be constructed fresh in tests.
func newFlagSet() *flagSet {
	fs := &flagSet{set: flag.NewFlagSet("imscrawl", flag.ExitOnError)}

	fs.set.Var(&fs.configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	fs.set.Var(&fs.configFiles, "c", "Configuration file path (shorthand)")
	fs.port = fs.set.Int("port", 0, "Server port (overrides config)")
	fs.portP = fs.set.Int("p", 0, "Server port (shorthand, overrides config)")
	fs.host = fs.set.String("host", "", "Server host (overrides config)")
	fs.showVersion = fs.set.Bool("version", false, "Print version information")
	fs.showVersionV = fs.set.Bool("v", false, "Print version information (shorthand)")

	return fs
}

func mergedPort(fs *flagSet) int {
	if *fs.portP != 0 {
		return *fs.portP
	}
	return *fs.port
}

// parseFlags parses the global flags shared by every subcommand and returns
// the leftover first positional argument (the subcommand name, if any) plus
// its own remaining arguments, dispatching subcommands by hand instead of
// pulling in a CLI framework.
func parseFlags(args []string) (parsedFlags, string, []string) {
	fs := newFlagSet()
	_ = fs.set.Parse(args)

	rest := fs.set.Args()
	subcommand := ""
	var subArgs []string
	if len(rest) > 0 {
		subcommand = rest[0]
		subArgs = rest[1:]
	}

	return parsedFlags{
		configFiles: fs.configFiles,
		port:        mergedPort(fs),
		host:        *fs.host,
		showVersion: *fs.showVersion || *fs.showVersionV,
	}, subcommand, subArgs
}
