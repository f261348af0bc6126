// Command obos-audd is the audio mixing daemon: it wires a Backend, the
// mixer outputs it negotiates, and the connection dispatcher into a
// running server, then listens on TCP and/or a Unix domain socket until
// told to stop.
//
// Grounded on the teacher's cmd/direwolf/main.go for the overall shape
// (pflag-based options, a usage banner, startup log lines) and on
// src/server_main.c for the concrete option surface this daemon's flags
// mirror: -l/-n enable or disable a connection mode (both are on by
// default), -a sets the TCP bind address, and the Unix socket directory
// is created with mode 0777 on startup and its socket file removed on
// exit (spec §6.2).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/obos-dev/obos-aud/internal/discovery"
	"github.com/obos-dev/obos-aud/internal/server"
	"github.com/obos-dev/obos-aud/internal/wire"
)

func main() {
	var (
		listen           = pflag.StringArrayP("listen", "l", nil, "Enable a connection mode: tcp or unix. Both are enabled by default.")
		noListen         = pflag.StringArrayP("no-listen", "n", nil, "Disable a connection mode: tcp or unix.")
		bindAddress      = pflag.StringP("bind", "a", "0.0.0.0", "TCP bind address.")
		unixIndex        = pflag.Int("unix-index", 0, "Index N of the /tmp/.obos-aud/U<N> unix socket to bind.")
		backendName      = pflag.String("backend", "memory", "Output backend: memory, file, or portaudio (requires building with -tags portaudio).")
		fileTargets      = pflag.StringArray("file-target", nil, `File backend target "id=path", repeatable. Only used with -backend=file.`)
		discoveryEnabled = pflag.Bool("discovery", true, "Advertise the TCP endpoint over DNS-SD.")
		timestampFormat  = pflag.StringP("timestamp-format", "T", "", "strftime format stamping QUERY_CONNECTIONS diagnostics logging.")
		logLevel         = pflag.String("log-level", "info", "Log level: debug, info, warn, error.")
		help             = pflag.BoolP("help", "h", false, "Display help text.")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - audio mixing daemon.\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Usage: %s [-l tcp|unix] [-n tcp|unix] [-a address]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	logger := log.New(os.Stderr)
	if lvl, err := log.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.Warn("unrecognized log level, defaulting to info", "level", *logLevel)
	}

	tcpListen, unixListen, err := resolveListenModes(*listen, *noListen)
	if err != nil {
		logger.Fatal("bad listen mode", "err", err)
	}

	be, cleanupBackend, err := newBackend(*backendName, *fileTargets)
	if err != nil {
		logger.Fatal("backend selection failed", "err", err)
	}
	if cleanupBackend != nil {
		defer cleanupBackend()
	}

	srv, err := server.New(be, *timestampFormat, logger.With("subsystem", "server"))
	if err != nil {
		logger.Fatal("server startup failed", "err", err)
	}
	srv.Start()

	listeners, unixSocketPath, err := openListeners(tcpListen, unixListen, *bindAddress, *unixIndex, logger)
	if err != nil {
		logger.Fatal("listen failed", "err", err)
	}
	defer func() {
		for _, ln := range listeners {
			ln.Close()
		}
		if unixSocketPath != "" {
			os.Remove(unixSocketPath)
		}
	}()

	var cancelDiscovery context.CancelFunc
	if *discoveryEnabled && tcpListen {
		var ctx context.Context
		ctx, cancelDiscovery = context.WithCancel(context.Background())
		defer cancelDiscovery()
		discovery.Announce(ctx, logger.With("subsystem", "discovery"), "obos-aud", wire.DefaultPort)
	}

	for _, ln := range listeners {
		go func(ln net.Listener) {
			if err := srv.Serve(ln); err != nil {
				logger.Debug("listener stopped", "addr", ln.Addr(), "err", err)
			}
		}(ln)
	}

	waitForShutdownSignal()

	logger.Info("shutting down")
	srv.Shutdown()
}

// resolveListenModes applies -l/-n exactly like server_main.c's getopt
// loop: both connection modes start enabled, -l forces one on, -n forces
// one off, and it is an error to end up with neither.
func resolveListenModes(enable, disable []string) (tcpListen, unixListen bool, err error) {
	tcpListen, unixListen = true, true
	for _, m := range enable {
		switch strings.ToLower(m) {
		case "tcp":
			tcpListen = true
		case "unix":
			unixListen = true
		default:
			return false, false, fmt.Errorf("invalid -l mode %q, must be tcp or unix", m)
		}
	}
	for _, m := range disable {
		switch strings.ToLower(m) {
		case "tcp":
			tcpListen = false
		case "unix":
			unixListen = false
		default:
			return false, false, fmt.Errorf("invalid -n mode %q, must be tcp or unix", m)
		}
	}
	if !tcpListen && !unixListen {
		return false, false, fmt.Errorf("nothing to listen on")
	}
	return tcpListen, unixListen, nil
}

// openListeners binds every enabled connection mode. The Unix socket
// directory is created with mode 0777 and any stale socket file from a
// prior crashed run is removed before binding, per spec §6.2.
func openListeners(tcpListen, unixListen bool, bindAddress string, unixIndex int, logger *log.Logger) (listeners []net.Listener, unixSocketPath string, err error) {
	if tcpListen {
		addr := fmt.Sprintf("%s:%d", bindAddress, wire.DefaultPort)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, "", fmt.Errorf("tcp listen on %s: %w", addr, err)
		}
		listeners = append(listeners, ln)
		logger.Info("listening", "network", "tcp", "addr", addr)
	}

	if unixListen {
		if err := os.MkdirAll(wire.UnixSocketDir, 0o777); err != nil {
			return listeners, "", fmt.Errorf("creating %s: %w", wire.UnixSocketDir, err)
		}
		unixSocketPath = wire.UnixSocketPath(unixIndex)
		os.Remove(unixSocketPath)
		ln, err := net.Listen("unix", unixSocketPath)
		if err != nil {
			return listeners, "", fmt.Errorf("unix listen on %s: %w", unixSocketPath, err)
		}
		listeners = append(listeners, ln)
		logger.Info("listening", "network", "unix", "addr", unixSocketPath)
	}

	return listeners, unixSocketPath, nil
}

func waitForShutdownSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}
