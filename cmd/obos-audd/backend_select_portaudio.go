//go:build portaudio

package main

import (
	"fmt"

	"github.com/obos-dev/obos-aud/internal/backend"
	"github.com/obos-dev/obos-aud/internal/backend/file"
	"github.com/obos-dev/obos-aud/internal/backend/memory"
	pa "github.com/obos-dev/obos-aud/internal/backend/portaudio"
)

// newBackend is the portaudio-tagged counterpart of backend_select.go's: it
// additionally offers -backend=portaudio against the host's default sound
// device.
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
		return pa.New(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", name)
	}
}
