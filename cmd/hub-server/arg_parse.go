package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

type Args struct {
	// IP on which the server will accept connections. Defaults to 0.0.0.0
	IP string
	// Port on which the server will accept connections. Defaults to 8888
	Port int
	// BufferSize of the hub's receive buffer, the largest accepted message. Defaults to 32768
	BufferSize int
	// ReadSize allocated for gorilla-ws's buffer when a new connection is accepted. Defaults to 1024
	ReadSize int
	// WriteSize allocated for gorilla-ws's buffer when a new connection is accepted. Defaults to 1024
	WriteSize int
	// IgnoreOrigin and accept connections from any source (mostly for development)
	IgnoreOrigin bool
	// Hello sends every client its identifier as soon as it connects
	Hello bool
	// Anonymous ignores the user of every request, so each connection is a new client
	Anonymous bool
	// Transport used for the WebSocket connections: "gorilla" or "gobwas". Defaults to gorilla
	Transport string
	// Debug enables debug messages
	Debug bool
}

const (
	transportGorilla = "gorilla"
	transportGobwas  = "gobwas"
)

// cliArgs receives the values of the command line flags.
var cliArgs Args

// confFile is a JSON file with the default parameters.
var confFile string

// bindFlags register every argument on `cmd`.
func bindFlags(cmd *cobra.Command) {
	const defaultIP = "0.0.0.0"
	const defaultPort = 8888
	const defaultBufferSize = 32768
	const defaultReadSize = 1024
	const defaultWriteSize = 1024
	const defaultIgnoreOrigin = true

	flags := cmd.Flags()
	flags.StringVar(&cliArgs.IP, "ip", defaultIP, "IP on which the server will accept connections")
	flags.IntVar(&cliArgs.Port, "port", defaultPort, "Port on which the server will accept connections")
	flags.IntVar(&cliArgs.BufferSize, "buffer-size", defaultBufferSize, "Size of the hub's receive buffer, the largest accepted message")
	flags.IntVar(&cliArgs.ReadSize, "read-size", defaultReadSize, "ReadSize allocated for gorilla-ws's buffer when a new connection is accepted")
	flags.IntVar(&cliArgs.WriteSize, "write-size", defaultWriteSize, "WriteSize allocated for gorilla-ws's buffer when a new connection is accepted")
	flags.BoolVar(&cliArgs.IgnoreOrigin, "ignore-origin", defaultIgnoreOrigin, "Accept connections from any source (mostly for development)")
	flags.BoolVar(&cliArgs.Hello, "hello", false, "Send every client its identifier as soon as it connects")
	flags.BoolVar(&cliArgs.Anonymous, "anonymous", false, "Ignore the requests' users, so each connection is a new client")
	flags.StringVar(&cliArgs.Transport, "transport", transportGorilla, "Transport for WebSocket connections (gorilla or gobwas)")
	flags.BoolVar(&cliArgs.Debug, "debug", false, "Enable debug messages")
	flags.StringVar(&confFile, "conf", "", "JSON file with the configuration options. May be overriden by other CLI arguments")
}

// parseArgs either from the command line or from the supplied JSON file.
//
// If a JSON file is supplied, it's used as the default parameters, which may be overriden by CLI-supplied arguments.
func parseArgs(cmd *cobra.Command, logger *slog.Logger) (Args, error) {
	args := cliArgs

	if len(confFile) != 0 {
		// Start from the flags' defaults, so missing fields are still set.
		jsonArgs := args

		f, err := os.Open(confFile)
		if err != nil {
			return args, fmt.Errorf("couldn't open the configuration file '%s': %w", confFile, err)
		}
		defer f.Close()

		dec := json.NewDecoder(f)
		err = dec.Decode(&jsonArgs)
		if err != nil {
			return args, fmt.Errorf("couldn't decode the configuration file '%s': %w", confFile, err)
		}

		// Walk over every set argument to override the JSON file
		flags := cmd.Flags()
		override := func(name string, fromJSON, fromCLI any) {
			logger.Info("Overriding JSON's value with CLI's value",
				"option", name, "json", fromJSON, "cli", fromCLI)
		}
		if flags.Changed("ip") {
			override("ip", jsonArgs.IP, args.IP)
			jsonArgs.IP = args.IP
		}
		if flags.Changed("port") {
			override("port", jsonArgs.Port, args.Port)
			jsonArgs.Port = args.Port
		}
		if flags.Changed("buffer-size") {
			override("buffer-size", jsonArgs.BufferSize, args.BufferSize)
			jsonArgs.BufferSize = args.BufferSize
		}
		if flags.Changed("read-size") {
			override("read-size", jsonArgs.ReadSize, args.ReadSize)
			jsonArgs.ReadSize = args.ReadSize
		}
		if flags.Changed("write-size") {
			override("write-size", jsonArgs.WriteSize, args.WriteSize)
			jsonArgs.WriteSize = args.WriteSize
		}
		if flags.Changed("ignore-origin") {
			override("ignore-origin", jsonArgs.IgnoreOrigin, args.IgnoreOrigin)
			jsonArgs.IgnoreOrigin = args.IgnoreOrigin
		}
		if flags.Changed("hello") {
			override("hello", jsonArgs.Hello, args.Hello)
			jsonArgs.Hello = args.Hello
		}
		if flags.Changed("anonymous") {
			override("anonymous", jsonArgs.Anonymous, args.Anonymous)
			jsonArgs.Anonymous = args.Anonymous
		}
		if flags.Changed("transport") {
			override("transport", jsonArgs.Transport, args.Transport)
			jsonArgs.Transport = args.Transport
		}
		if flags.Changed("debug") {
			override("debug", jsonArgs.Debug, args.Debug)
			jsonArgs.Debug = args.Debug
		}

		args = jsonArgs
	}

	switch args.Transport {
	case transportGorilla, transportGobwas:
	default:
		return args, fmt.Errorf("unknown transport '%s'", args.Transport)
	}

	logger.Info("Starting server with options",
		"ip", args.IP,
		"port", args.Port,
		"buffer-size", args.BufferSize,
		"read-size", args.ReadSize,
		"write-size", args.WriteSize,
		"ignore-origin", args.IgnoreOrigin,
		"hello", args.Hello,
		"anonymous", args.Anonymous,
		"transport", args.Transport,
		"debug", args.Debug)

	return args, nil
}
