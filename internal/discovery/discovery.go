// Package discovery advertises the server's TCP endpoint over mDNS/DNS-SD
// so LAN clients can find a server without hardcoding AUD_DISPLAY (spec
// §6.3's environment-variable resolution remains the only required
// connection path; this is purely additive discoverability).
//
// Grounded on the teacher's dns_sd.go, which announces Dire Wolf's KISS
// TCP service the same way via github.com/brutella/dnssd.
package discovery

import (
	"context"
	"fmt"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
)

// ServiceType is the DNS-SD service type this server advertises.
const ServiceType = "_obos-aud._tcp"

// Announce registers name on port via mDNS and starts responding to
// queries in the background until ctx is cancelled. A failure to
// announce is logged and non-fatal: discovery is optional, unlike the
// wire protocol itself.
func Announce(ctx context.Context, logger *log.Logger, name string, port int) {
	if logger == nil {
		logger = log.Default()
	}
	if name == "" {
		name = fmt.Sprintf("obos-aud-%d", port)
	}

	cfg := dnssd.Config{Name: name, Type: ServiceType, Port: port}
	svc, err := dnssd.NewService(cfg)
	if err != nil {
		logger.Error("discovery: failed to create service", "err", err)
		return
	}

	responder, err := dnssd.NewResponder()
	if err != nil {
		logger.Error("discovery: failed to create responder", "err", err)
		return
	}

	if _, err := responder.Add(svc); err != nil {
		logger.Error("discovery: failed to add service", "err", err)
		return
	}

	logger.Info("discovery: announcing", "service", ServiceType, "name", name, "port", port)
	go func() {
		if err := responder.Respond(ctx); err != nil && ctx.Err() == nil {
			logger.Error("discovery: responder stopped", "err", err)
		}
	}()
}
