package device

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

// SNMP status probe for network printers (Printer-MIB / Host-Resources
// MIB). Used to surface stopped-device reasons to clients polling
// printer status; job bytes never flow through SNMP.

const (
	oidHrDeviceStatus       = ".1.3.6.1.2.1.25.3.2.1.5.1"
	oidHrPrinterStatus      = ".1.3.6.1.2.1.25.3.5.1.1.1"
	oidHrPrinterErrorState  = ".1.3.6.1.2.1.25.3.5.1.2.1"
)

// Status is the decoded result of one SNMP probe.
type Status struct {
	Online  bool
	Reasons []string
}

// ProbeStatus queries a network device for its printer status. The uri
// is the device URI of a socket:// printer; the SNMP agent is assumed
// on the same host, port 161.
func ProbeStatus(uri, community string, timeout time.Duration) (Status, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Status{}, err
	}
	host := u.Hostname()
	if host == "" {
		return Status{}, fmt.Errorf("device uri %q has no host", uri)
	}
	if community == "" {
		community = "public"
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	client := &gosnmp.GoSNMP{
		Target:    host,
		Port:      161,
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   1,
	}
	if err := client.Connect(); err != nil {
		return Status{}, err
	}
	defer client.Conn.Close()

	res, err := client.Get([]string{oidHrDeviceStatus, oidHrPrinterStatus, oidHrPrinterErrorState})
	if err != nil {
		return Status{}, err
	}

	st := Status{Online: true}
	for _, v := range res.Variables {
		switch {
		case strings.HasSuffix(v.Name, strings.TrimPrefix(oidHrDeviceStatus, ".")):
			if n, ok := snmpInt(v.Value); ok && n == 5 { // down
				st.Online = false
			}
		case strings.HasSuffix(v.Name, strings.TrimPrefix(oidHrPrinterStatus, ".")):
			if n, ok := snmpInt(v.Value); ok && n == 5 { // warmup
				st.Reasons = append(st.Reasons, "warming-up")
			}
		case strings.HasSuffix(v.Name, strings.TrimPrefix(oidHrPrinterErrorState, ".")):
			if b, ok := v.Value.([]byte); ok && len(b) > 0 {
				st.Reasons = append(st.Reasons, decodeErrorState(b[0])...)
			}
		}
	}
	return st, nil
}

// decodeErrorState maps the first octet of hrPrinterDetectedErrorState
// to IPP printer-state-reasons keywords.
func decodeErrorState(b byte) []string {
	var out []string
	if b&0x80 != 0 {
		out = append(out, "media-low")
	}
	if b&0x40 != 0 {
		out = append(out, "media-empty")
	}
	if b&0x20 != 0 {
		out = append(out, "toner-low")
	}
	if b&0x10 != 0 {
		out = append(out, "toner-empty")
	}
	if b&0x08 != 0 {
		out = append(out, "door-open")
	}
	if b&0x04 != 0 {
		out = append(out, "media-jam")
	}
	if b&0x02 != 0 {
		out = append(out, "offline")
	}
	if b&0x01 != 0 {
		out = append(out, "service-requested")
	}
	return out
}

func snmpInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint64:
		return int(n), true
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, true
		}
	}
	return 0, false
}
