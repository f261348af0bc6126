// Package server wires the dispatcher, mixer outputs, and a backend
// together into a running daemon, owning the process-wide tables the
// original keeps as globals (g_connections, g_outputs, g_default_output,
// src/con.c / src/mixer.c) as an explicit struct instead, per the
// system's guidance against ambient package-level statics.
package server

import (
	"fmt"
	"net"

	"github.com/charmbracelet/log"

	"github.com/obos-dev/obos-aud/internal/backend"
	"github.com/obos-dev/obos-aud/internal/dispatch"
	"github.com/obos-dev/obos-aud/internal/mixer"
)

// sampleRateLadder is the original's output auto-negotiation fallback
// order (src/mixer.c's sample_rates[] probe loop, SPEC_FULL.md §3.2):
// each candidate is tried stereo then mono, first realized parameters win.
var sampleRateLadder = []int{44100, 22050, 88200, 96000, 48000, 16000, 11025, 8000}

// defaultTypePreference is the original's default-output tie-break
// (src/mixer.c's mixer_initialize, SPEC_FULL.md §3.1): prefer a speaker,
// then a line-out, then a headphone jack, else the first enumerated
// device.
var defaultTypePreference = []backend.OutputType{
	backend.OutputTypeSpeaker,
	backend.OutputTypeLineOut,
	backend.OutputTypeHeadphone,
}

// Server owns every output's mixer worker and the connection dispatcher
// feeding them, for one backend.
type Server struct {
	Dispatcher      *dispatch.Dispatcher
	Outputs         map[uint16]*mixer.Output
	DefaultOutputID uint16

	logger  *log.Logger
	runStop chan struct{}
}

// New initializes be, enumerates and negotiates every output it exposes,
// and returns a Server ready to Start and Serve. A backend failure here
// is fatal to startup (spec §7). timestampFormat is an optional strftime
// pattern (the teacher's -T convention) for QUERY_CONNECTIONS diagnostics.
func New(be backend.Backend, timestampFormat string, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := be.Initialize(); err != nil {
		return nil, fmt.Errorf("server: backend initialize: %w", err)
	}

	devices, err := be.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("server: backend enumerate: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("server: backend exposes no output devices")
	}

	outputs := make(map[uint16]*mixer.Output, len(devices))
	deviceMeta := make(map[uint16]backend.Device, len(devices))
	for _, dev := range devices {
		params, err := negotiate(be, dev.ID)
		if err != nil {
			return nil, fmt.Errorf("server: negotiate output %d: %w", dev.ID, err)
		}
		outputs[dev.ID] = mixer.New(dev.ID, be, params.SampleRate, params.Channels, logger.With("output", dev.ID))
		deviceMeta[dev.ID] = dev
	}

	defaultID := chooseDefault(devices)
	d := dispatch.New(outputs, deviceMeta, defaultID, timestampFormat, logger.With("subsystem", "dispatch"))

	return &Server{
		Dispatcher:      d,
		Outputs:         outputs,
		DefaultOutputID: defaultID,
		logger:          logger,
	}, nil
}

// negotiate walks sampleRateLadder stereo-then-mono, accepting the first
// (rate, channels) the backend actually realizes.
func negotiate(be backend.Backend, id uint16) (backend.Params, error) {
	for _, rate := range sampleRateLadder {
		for _, channels := range []int{2, 1} {
			if err := be.Configure(id, rate, channels, 16); err != nil {
				continue
			}
			params, err := be.Query(id)
			if err != nil {
				continue
			}
			return params, nil
		}
	}
	return backend.Params{}, fmt.Errorf("no acceptable sample rate/channel combination")
}

func chooseDefault(devices []backend.Device) uint16 {
	for _, want := range defaultTypePreference {
		for _, d := range devices {
			if d.Type == want {
				return d.ID
			}
		}
	}
	return devices[0].ID
}

// Start launches every output's mixer worker and the dispatcher's FIFO
// drain loop. Call it once, before Serve.
func (s *Server) Start() {
	s.runStop = make(chan struct{})
	for _, out := range s.Outputs {
		go out.Run()
	}
	go s.Dispatcher.Run(s.runStop)
}

// Serve accepts connections from ln until it errors (typically because
// the caller closed ln; Shutdown does not close listeners). Call once per listener; a deployment may run
// several (e.g. one tcp, one unix) concurrently against the same Server.
func (s *Server) Serve(ln net.Listener) error {
	return s.Dispatcher.Serve(ln)
}

// Shutdown stops the dispatcher's drain loop, closes every tracked
// connection, and stops every mixer worker.
func (s *Server) Shutdown() {
	if s.runStop != nil {
		close(s.runStop)
	}
	s.Dispatcher.Shutdown()
	for _, out := range s.Outputs {
		out.Stop()
	}
}
