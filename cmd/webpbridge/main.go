// Command webpbridge inspects, converts and serves WebP images through the
// image-wrapper bridge.
//
// Usage:
//
//	webpbridge info <input.webp>                  Print dimensions and raw format
//	webpbridge decode [options] <input.webp>      WebP → PNG/JPEG or raw pixels
//	webpbridge encode [options] <input>           PNG/JPEG/WebP → WebP
//	webpbridge batch [options] <inputs...>        Encode many files on the worker pool
//	webpbridge serve [options]                    Run the HTTP API
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Skryldev/webpbridge/config"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "webpbridge: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) < 1 {
		printUsage(stdout)
		return fmt.Errorf("missing command")
	}

	switch args[0] {
	case "info":
		return runInfo(args[1:], stdout)
	case "decode":
		return runDecode(args[1:], stdout)
	case "encode":
		return runEncode(args[1:], stdout)
	case "batch":
		return runBatch(args[1:], stdout)
	case "serve":
		return runServe(args[1:])
	case "-h", "-help", "--help", "help":
		printUsage(stdout)
		return nil
	}
	printUsage(stdout)
	return fmt.Errorf("unknown command %q", args[0])
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage:
  webpbridge info <input.webp>                  Print dimensions and raw format
  webpbridge decode [options] <input.webp>      Decode to PNG/JPEG or raw pixels
  webpbridge encode [options] <input>           Encode PNG/JPEG/WebP to WebP
  webpbridge batch [options] <inputs...>        Encode many files on the worker pool
  webpbridge serve [options]                    Run the HTTP API

Every command accepts -config <file.yaml> and -codec <libwebp|native|wasm|vips>.
Run "webpbridge <command> -h" for command-specific options.
`)
}

// loadConfig reads path (when set) over the defaults, applies a codec
// override and sets the global log level.
func loadConfig(path, codec string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}
	if codec != "" {
		cfg.Codec = strings.ToLower(codec)
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return config.Config{}, err
	}
	log.Logger = log.Logger.Level(level)
	return cfg, nil
}
