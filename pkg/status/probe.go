package status

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

const probeLogPrefix = "status:probe"

const defaultDialTimeout = 2 * time.Second

// ProbeConfig describes what a SystemProbe inspects.
type ProbeConfig struct {
	// Device is the network interface whose IPv4 address identifies the guest.
	Device string
	// ServerProcess is the executable name of the database server.
	ServerProcess string
	// ServerNetwork and ServerAddress are dialed to check that the server accepts connections.
	ServerNetwork string
	ServerAddress string
	DiskPath      string
	AgentVersion  string
	DialTimeout   time.Duration
}

// SystemProbe computes a Record from the live host using gopsutil.
type SystemProbe struct {
	cfg ProbeConfig
	now func() time.Time
}

// NewSystemProbe creates a probe.
func NewSystemProbe(cfg ProbeConfig) *SystemProbe {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.ServerNetwork == "" {
		cfg.ServerNetwork = "tcp"
	}
	return &SystemProbe{cfg: cfg, now: time.Now}
}

// NewSystemProbeFactory returns a ProbeFactory building a fresh SystemProbe per refresh.
func NewSystemProbeFactory(cfg ProbeConfig) ProbeFactory {
	return func() Probe { return NewSystemProbe(cfg) }
}

// Compute inspects the host. Failure to read the host identity or the process table is an
// error; resource levels that cannot be read are logged and left at zero.
func (p *SystemProbe) Compute(ctx context.Context) (*Record, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s - host info: %w", probeLogPrefix, err)
	}

	address, err := p.deviceAddress(ctx)
	if err != nil {
		return nil, err
	}

	present, err := p.processPresent(ctx)
	if err != nil {
		return nil, err
	}
	open := present && p.portOpen(ctx)
	state := Classify(present, open)

	rec := &Record{
		HostID:           info.Hostname,
		Address:          address,
		State:            state,
		StateDescription: state.String(),
		AgentVersion:     p.cfg.AgentVersion,
		ObservedAt:       p.now().UTC(),
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		slog.Warn(fmt.Sprintf("%s - memory info: %v", probeLogPrefix, err))
	} else {
		rec.MemUsedPercent = vm.UsedPercent
	}
	if ld, err := load.AvgWithContext(ctx); err != nil {
		slog.Warn(fmt.Sprintf("%s - load info: %v", probeLogPrefix, err))
	} else {
		rec.Load1 = ld.Load1
	}
	if p.cfg.DiskPath != "" {
		if du, err := disk.UsageWithContext(ctx, p.cfg.DiskPath); err != nil {
			slog.Warn(fmt.Sprintf("%s - disk usage of %s: %v", probeLogPrefix, p.cfg.DiskPath, err))
		} else {
			rec.DiskUsedPercent = du.UsedPercent
		}
	}
	return rec, nil
}

// deviceAddress returns the first IPv4 address of the configured device, or "" when the
// device does not exist or has none.
func (p *SystemProbe) deviceAddress(ctx context.Context) (string, error) {
	if p.cfg.Device == "" {
		return "", nil
	}
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("%s - list interfaces: %w", probeLogPrefix, err)
	}
	for _, iface := range ifaces {
		if iface.Name != p.cfg.Device {
			continue
		}
		for _, a := range iface.Addrs {
			if addr, ok := ipv4Of(a.Addr); ok {
				return addr, nil
			}
		}
		slog.Warn(fmt.Sprintf("%s - device %s has no IPv4 address", probeLogPrefix, p.cfg.Device))
		return "", nil
	}
	slog.Warn(fmt.Sprintf("%s - device %s not found", probeLogPrefix, p.cfg.Device))
	return "", nil
}

// ipv4Of accepts "a.b.c.d/nn" or a bare address.
func ipv4Of(s string) (string, bool) {
	if prefix, err := netip.ParsePrefix(s); err == nil {
		if prefix.Addr().Is4() {
			return prefix.Addr().String(), true
		}
		return "", false
	}
	if addr, err := netip.ParseAddr(s); err == nil && addr.Is4() {
		return addr.String(), true
	}
	return "", false
}

func (p *SystemProbe) processPresent(ctx context.Context) (bool, error) {
	if p.cfg.ServerProcess == "" {
		return false, nil
	}
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, fmt.Errorf("%s - list processes: %w", probeLogPrefix, err)
	}
	for _, proc := range procs {
		// Processes exit while we iterate; their errors are not interesting.
		name, err := proc.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if name == p.cfg.ServerProcess {
			return true, nil
		}
	}
	return false, nil
}

func (p *SystemProbe) portOpen(ctx context.Context) bool {
	if p.cfg.ServerAddress == "" {
		return false
	}
	d := net.Dialer{Timeout: p.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, p.cfg.ServerNetwork, p.cfg.ServerAddress)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - %s not answering: %v", probeLogPrefix, p.cfg.ServerAddress, err))
		return false
	}
	conn.Close()
	return true
}

// ServerEndpoint derives the network and address to dial from a PostgreSQL URL. A host that
// is a directory selects the server's Unix socket.
func ServerEndpoint(databaseURL string) (network, address string, err error) {
	cfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return "", "", fmt.Errorf("%s - parse local database URL: %w", probeLogPrefix, err)
	}
	port := strconv.Itoa(int(cfg.Port))
	if strings.HasPrefix(cfg.Host, "/") {
		return "unix", strings.TrimSuffix(cfg.Host, "/") + "/.s.PGSQL." + port, nil
	}
	return "tcp", net.JoinHostPort(cfg.Host, port), nil
}
