//go:build !portaudio

package main

import (
	"fmt"

	"github.com/obos-dev/obos-aud/internal/backend"
	"github.com/obos-dev/obos-aud/internal/backend/file"
	"github.com/obos-dev/obos-aud/internal/backend/memory"
)

// newBackend resolves the -backend flag into a concrete backend.Backend.
// The portaudio backend is only available when this binary is built with
// -tags portaudio (see backend_select_portaudio.go) -- requesting it here
// without that tag is a startup error, the same split the teacher uses for
// its cgo-gated ALSA/OSS audio code (audio.go's USE_ALSA).
func newBackend(name string, fileTargets []string) (backend.Backend, func(), error) {
	switch name {
	case "", "memory":
		return memory.New([]backend.Device{
			{ID: 1, Type: backend.OutputTypeSpeaker},
		}), nil, nil
	case "file":
		targets, err := parseFileTargets(fileTargets)
		if err != nil {
			return nil, nil, err
		}
		b := file.New(targets)
		return b, func() { b.Close() }, nil
	case "portaudio":
		return nil, nil, fmt.Errorf("backend %q requires building with -tags portaudio", name)
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", name)
	}
}
