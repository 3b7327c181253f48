package main

import (
	"flag"
	"os"

	"github.com/danmuck/udpkv/internal/config"
)

type options struct {
	configPath   string
	port         int
	capacity     int
	logLevel     string
	adminAddr    string
	errorReplies bool
	writeConfig  string
	printConfig  bool

	set map[string]bool
}

func parseFlags(args []string) options {
	fs := flag.NewFlagSet("kvd", flag.ExitOnError)
	opts, err := parseFlagSet(fs, args)
	if err != nil {
		os.Exit(2)
	}
	return opts
}

func parseFlagSet(fs *flag.FlagSet, args []string) (options, error) {
	var opts options
	def := config.Default()
	fs.StringVar(&opts.configPath, "config", "", "path to a TOML config file")
	fs.IntVar(&opts.port, "port", def.Port, "UDP port to listen on")
	fs.IntVar(&opts.capacity, "capacity", def.Capacity, "number of addressable keys")
	fs.StringVar(&opts.logLevel, "log-level", def.LogLevel, "trace | debug | info | warn | error | off")
	fs.StringVar(&opts.adminAddr, "admin", def.Admin.Addr, "admin HTTP listen address (empty disables)")
	fs.BoolVar(&opts.errorReplies, "error-replies", def.ErrorReplies, "answer dropped datagrams with an error reply")
	fs.StringVar(&opts.writeConfig, "write-config", "", "write a default config template to this path and exit")
	fs.BoolVar(&opts.printConfig, "print-config", false, "print the effective config and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		opts.set[f.Name] = true
	})
	return opts, nil
}

// loadConfig reads the config file, if any, then applies explicitly set flags.
func loadConfig(opts options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if opts.set["port"] {
		cfg.Port = opts.port
	}
	if opts.set["capacity"] {
		cfg.Capacity = opts.capacity
	}
	if opts.set["log-level"] {
		cfg.LogLevel = opts.logLevel
	}
	if opts.set["admin"] {
		cfg.Admin.Addr = opts.adminAddr
	}
	if opts.set["error-replies"] {
		cfg.ErrorReplies = opts.errorReplies
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
