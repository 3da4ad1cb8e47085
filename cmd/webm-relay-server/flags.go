package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/alxayo/webmrelay/internal/config"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds user-supplied flag values prior to translation into
// server.Config; parseFlags validates them and main.go maps them.
type cliConfig struct {
	listenAddr           string
	logLevel             string
	reapWindow           time.Duration
	maxHeaderBytes       int
	publishChunkBytes    int
	subscriberQueueDepth int
	configPath           string
	showVersion          bool

	explicit map[string]bool // flags actually passed on the command line
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("webm-relay-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}

	fs.StringVar(&cfg.listenAddr, "listen", ":8080", "HTTP listen address")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.DurationVar(&cfg.reapWindow, "reap-window", 10*time.Second, "Publisher reconnect grace period")
	fs.IntVar(&cfg.maxHeaderBytes, "max-header-bytes", 1<<20, "Header buffer cap in bytes")
	fs.IntVar(&cfg.publishChunkBytes, "publish-chunk-bytes", 16384, "Read size from a publisher's request body")
	fs.IntVar(&cfg.subscriberQueueDepth, "subscriber-queue-depth", 1, "Per-subscriber queue capacity")
	fs.StringVar(&cfg.configPath, "config", "", "Optional YAML config file; flags override it")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.explicit = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { cfg.explicit[f.Name] = true })

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	if cfg.reapWindow <= 0 {
		return nil, fmt.Errorf("reap-window must be positive, got %s", cfg.reapWindow)
	}
	if cfg.maxHeaderBytes <= 0 {
		return nil, fmt.Errorf("max-header-bytes must be positive, got %d", cfg.maxHeaderBytes)
	}
	if cfg.publishChunkBytes <= 0 {
		return nil, fmt.Errorf("publish-chunk-bytes must be positive, got %d", cfg.publishChunkBytes)
	}
	if cfg.subscriberQueueDepth <= 0 {
		return nil, fmt.Errorf("subscriber-queue-depth must be positive, got %d", cfg.subscriberQueueDepth)
	}

	return cfg, nil
}

// applyFile overlays values from an optional config file onto cfg, but only
// for flags the user didn't pass explicitly -- flags always win.
func (cfg *cliConfig) applyFile(file *config.Config) {
	if !cfg.explicit["listen"] && file.Listen != "" {
		cfg.listenAddr = file.Listen
	}
	if !cfg.explicit["log-level"] && file.LogLevel != "" {
		cfg.logLevel = file.LogLevel
	}
	if !cfg.explicit["reap-window"] && file.ReapWindow > 0 {
		cfg.reapWindow = file.ReapWindow
	}
	if !cfg.explicit["max-header-bytes"] && file.MaxHeaderBytes > 0 {
		cfg.maxHeaderBytes = file.MaxHeaderBytes
	}
	if !cfg.explicit["publish-chunk-bytes"] && file.PublishChunkBytes > 0 {
		cfg.publishChunkBytes = file.PublishChunkBytes
	}
	if !cfg.explicit["subscriber-queue-depth"] && file.SubscriberQueueDepth > 0 {
		cfg.subscriberQueueDepth = file.SubscriberQueueDepth
	}
}
