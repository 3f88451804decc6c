package main

import "flag"

// cliFlags holds the command line overrides applied on top of the loaded
// configuration file.
type cliFlags struct {
	ConfigFile string
	ListenAddr string
	LogLevel   string
}

func parseFlags() cliFlags {
	configFile := flag.String("globalconfig", "", "Path to the global YAML/JSON configuration file. If not set, searches default locations.")
	configFileAlias := flag.String("gc", "", "Alias for --globalconfig")

	listenAddr := flag.String("listen", "", "Control API listen address (overrides config file if set)")
	listenAddrAlias := flag.String("l", "", "Alias for --listen")

	logLevel := flag.String("log-level", "", "Log level: trace, debug, info, warn, error (overrides config file if set)")

	flag.Parse()

	// Consolidate alias flags
	if *configFile == "" && *configFileAlias != "" {
		*configFile = *configFileAlias
	}
	if *listenAddr == "" && *listenAddrAlias != "" {
		*listenAddr = *listenAddrAlias
	}

	return cliFlags{
		ConfigFile: *configFile,
		ListenAddr: *listenAddr,
		LogLevel:   *logLevel,
	}
}
