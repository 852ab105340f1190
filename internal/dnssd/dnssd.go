// Package dnssd broadcasts the server's print queues over mDNS so
// clients can discover them as _ipp._tcp services.
package dnssd

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/miekg/dns"

	"ippserv/internal/logging"
	"ippserv/internal/system"
)

// Advertiser keeps one mDNS responder alive and re-publishes the
// queue list when it changes. It is best effort: registration failures
// never stop the server.
type Advertiser struct {
	sys      *system.System
	hostName string
	port     int
	tls      bool

	zone   *zone
	server *mdns.Server

	refreshCh chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// zone answers mDNS questions from the current service set.
type zone struct {
	mu       sync.RWMutex
	services []*mdns.MDNSService
}

func (z *zone) setServices(services []*mdns.MDNSService) {
	z.mu.Lock()
	z.services = services
	z.mu.Unlock()
}

func (z *zone) Records(q dns.Question) []dns.RR {
	z.mu.RLock()
	services := append([]*mdns.MDNSService(nil), z.services...)
	z.mu.RUnlock()

	var out []dns.RR
	for _, svc := range services {
		out = append(out, svc.Records(q)...)
	}
	return out
}

// Start launches the responder. hostName must end in ".local." for
// mDNS; a bare name is qualified automatically.
func Start(ctx context.Context, sys *system.System, hostName string, port int, withTLS bool) (*Advertiser, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	hostName = qualifyHost(hostName)

	z := &zone{}
	srv, err := mdns.NewServer(&mdns.Config{Zone: z, LogEmptyResponses: false})
	if err != nil {
		return nil, fmt.Errorf("start mDNS responder: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	a := &Advertiser{
		sys:       sys,
		hostName:  hostName,
		port:      port,
		tls:       withTLS,
		zone:      z,
		server:    srv,
		refreshCh: make(chan struct{}, 1),
		cancel:    cancel,
	}
	a.wg.Add(1)
	go a.loop(runCtx)
	return a, nil
}

// AddEvent lets the advertiser sit on the system's event bus so queue
// changes republish without waiting for the next tick. Never blocks.
func (a *Advertiser) AddEvent(ev system.Event) {
	switch ev.Kind {
	case system.EventPrinterCreated, system.EventPrinterDeleted,
		system.EventPrinterStateChanged:
		select {
		case a.refreshCh <- struct{}{}:
		default:
		}
	}
}

func (a *Advertiser) Close() {
	if a == nil {
		return
	}
	a.cancel()
	a.wg.Wait()
	_ = a.server.Shutdown()
}

func (a *Advertiser) loop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	a.refresh()
	for {
		select {
		case <-ticker.C:
			a.refresh()
		case <-a.refreshCh:
			a.refresh()
		case <-ctx.Done():
			a.zone.setServices(nil)
			return
		}
	}
}

func (a *Advertiser) refresh() {
	printers := a.sys.Printers()
	services := make([]*mdns.MDNSService, 0, 2*len(printers))

	for _, p := range printers {
		txt := txtRecord(p, a.tls)
		instance := p.Name()
		if svc, err := mdns.NewMDNSService(instance, "_ipp._tcp", "local",
			a.hostName, a.port, nil, txt); err == nil {
			services = append(services, svc)
		} else {
			logging.Debugf("mDNS registration for %q failed: %v", instance, err)
		}
		if !a.tls {
			continue
		}
		if svc, err := mdns.NewMDNSService(instance, "_ipps._tcp", "local",
			a.hostName, a.port, nil, txt); err == nil {
			services = append(services, svc)
		}
	}
	a.zone.setServices(services)
}

// txtRecord builds the DNS-SD TXT keys clients expect for an IPP
// queue.
func txtRecord(p *system.Printer, withTLS bool) []string {
	txt := []string{
		"txtvers=1",
		"qtotal=1",
		"rp=" + strings.TrimPrefix(p.Resource(), "/"),
		"ty=" + p.Name(),
		"pdl=application/pdf,image/pwg-raster,image/urf",
		"UUID=" + strings.TrimPrefix(p.UUID(), "urn:uuid:"),
		"URF=W8,SRGB24,CP1,RS300",
	}
	if withTLS {
		txt = append(txt, "TLS=1.2")
	}
	if p.Accepting() {
		txt = append(txt, "printer-state=3")
	} else {
		txt = append(txt, "printer-state=5")
	}
	return txt
}

func qualifyHost(h string) string {
	h = strings.TrimSpace(h)
	if h == "" {
		h = "ippserv"
	}
	if !strings.HasSuffix(h, ".") {
		if !strings.HasSuffix(h, ".local") {
			h += ".local"
		}
		h += "."
	}
	return h
}
