package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/obos-dev/obos-aud/internal/backend"
	"github.com/obos-dev/obos-aud/internal/backend/file"
)

// parseFileTargets turns "-file-target id=path" flag values into file.Target
// entries for the file backend. Shared by both the default build and the
// portaudio-tagged build, since -backend=file is available in either.
func parseFileTargets(specs []string) ([]file.Target, error) {
	targets := make([]file.Target, 0, len(specs))
	for _, spec := range specs {
		idStr, path, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid -file-target %q, expected id=path", spec)
		}
		id, err := strconv.ParseUint(idStr, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid -file-target id %q: %w", idStr, err)
		}
		targets = append(targets, file.Target{
			Device: backend.Device{ID: uint16(id), Type: backend.OutputTypeLineOut},
			Path:   path,
		})
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("-backend=file requires at least one -file-target id=path")
	}
	return targets, nil
}
