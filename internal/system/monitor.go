package system

import (
	"context"
	"strings"
	"time"

	"ippserv/internal/device"
	"ippserv/internal/logging"
)

// probeFunc matches device.ProbeStatus; tests substitute their own.
type probeFunc func(uri, community string, timeout time.Duration) (device.Status, error)

// snmpReasonBits maps probe keywords onto printer reason bits. Keywords
// without a dedicated bit collapse to "other".
var snmpReasonBits = map[string]ReasonSet{
	"media-low":         PrinterReasonMediaNeeded,
	"media-empty":       PrinterReasonMediaEmpty,
	"toner-low":         PrinterReasonTonerLow,
	"toner-empty":       PrinterReasonTonerEmpty,
	"media-jam":         PrinterReasonMediaJam,
	"offline":           PrinterReasonDeviceError,
	"door-open":         PrinterReasonOther,
	"service-requested": PrinterReasonOther,
	"warming-up":        PrinterReasonOther,
}

// snmpProbeBits is the set of bits a probe may own. Bits outside it,
// the paused flag and the job engine's connecting-to-device flag, are
// never touched by the monitor.
const snmpProbeBits = PrinterReasonDeviceError |
	PrinterReasonMediaEmpty |
	PrinterReasonMediaJam |
	PrinterReasonMediaNeeded |
	PrinterReasonTonerLow |
	PrinterReasonTonerEmpty |
	PrinterReasonOther

// StatusMonitor periodically probes network printers over SNMP and
// mirrors the decoded status into their state reasons.
type StatusMonitor struct {
	sys       *System
	community string
	interval  time.Duration
	probe     probeFunc
}

func NewStatusMonitor(sys *System, community string, interval time.Duration) *StatusMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &StatusMonitor{
		sys:       sys,
		community: community,
		interval:  interval,
		probe:     device.ProbeStatus,
	}
}

// Run sweeps all socket:// printers once, then on every tick until the
// context is done.
func (m *StatusMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		m.sweep()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *StatusMonitor) sweep() {
	for _, p := range m.sys.Printers() {
		if !strings.HasPrefix(p.DeviceURI(), "socket://") {
			continue
		}
		st, err := m.probe(p.DeviceURI(), m.community, 2*time.Second)
		if err != nil {
			logging.Debugf("SNMP probe of printer %q failed: %v", p.Name(), err)
			continue
		}
		m.apply(p, st)
	}
}

// apply replaces the probe-owned reason bits with the fresh result so
// a cleared condition disappears on the next sweep.
func (m *StatusMonitor) apply(p *Printer, st device.Status) {
	var bits ReasonSet
	if !st.Online {
		bits.Add(PrinterReasonDeviceError)
	}
	for _, kw := range st.Reasons {
		if b, ok := snmpReasonBits[kw]; ok {
			bits.Add(b)
		}
	}
	p.RemoveReasons(snmpProbeBits &^ bits)
	if bits != 0 {
		p.AddReasons(bits)
	}
}
