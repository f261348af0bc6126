//go:build linux

// Package alsaenum provides one-shot ALSA PCM playback device enumeration
// via udev, the same way the original obos-aud's aconf.c walked the driver
// tree once at startup to build its static output list rather than
// watching for hotplug events (the spec's Non-goal of dynamic output
// discovery applies here too: this package enumerates exactly once, when
// asked, and never subscribes to udev monitor events).
//
// It produces a []backend.Device list; pairing those ids with a real PCM
// sink is left to whatever Backend ends up handling playback (e.g.
// internal/backend/portaudio, fed Configure/Queue calls keyed by the same
// device ids this package assigns).
package alsaenum

import (
	"sort"
	"strconv"
	"strings"

	"github.com/jochenvg/go-udev"

	"github.com/obos-dev/obos-aud/internal/backend"
)

// Device is one enumerated ALSA playback device, identified the way
// /proc/asound and udev both name cards: a numeric card index and a PCM
// device index within that card.
type Device struct {
	backend.Device
	Card     int
	PCM      int
	CardName string
}

// Enumerate walks udev's "sound" subsystem once and returns every playback
// PCM device found, ordered by (card, device) so ids are stable across
// runs on the same machine.
func Enumerate() ([]Device, error) {
	u := udev.Udev{}
	enum := u.NewEnumerate()
	if err := enum.AddMatchSubsystem("sound"); err != nil {
		return nil, err
	}
	if err := enum.AddMatchIsInitialized(); err != nil {
		return nil, err
	}
	devices, err := enum.Devices()
	if err != nil {
		return nil, err
	}

	var out []Device
	for _, d := range devices {
		sysname := d.Sysname()
		card, pcm, ok := parsePCMSysname(sysname)
		if !ok {
			continue
		}
		name := d.PropertyValue("ID_MODEL")
		if name == "" {
			name = sysname
		}
		out = append(out, Device{
			Device: backend.Device{
				Type: backend.OutputTypeSpeaker,
			},
			Card:     card,
			PCM:      pcm,
			CardName: name,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Card != out[j].Card {
			return out[i].Card < out[j].Card
		}
		return out[i].PCM < out[j].PCM
	})
	for i := range out {
		out[i].Device.ID = uint16(i + 1)
	}
	return out, nil
}

// parsePCMSysname recognizes udev sound-subsystem device names of the form
// "pcmC<card>D<device>p" (playback) and extracts the card/device indices.
// Capture ("c") devices are skipped; only "p" (playback) is of interest.
func parsePCMSysname(sysname string) (card, dev int, ok bool) {
	if !strings.HasPrefix(sysname, "pcmC") || !strings.HasSuffix(sysname, "p") {
		return 0, 0, false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(sysname, "pcmC"), "p")
	parts := strings.SplitN(rest, "D", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	c, err1 := strconv.Atoi(parts[0])
	d, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return c, d, true
}
