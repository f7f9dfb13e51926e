package monitor

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"familiar/internal/config"
	"familiar/internal/types"
)

// tcpEstablished is the kernel state code in /proc/net/tcp.
const tcpEstablished = "01"

// PeerCheck watches established TCP connections for remote peers that
// are neither configured as known nor seen before. A machine that
// suddenly talks to new hosts is worth a look.
type PeerCheck struct {
	cfg   config.PeerConfig
	files []string
	known map[string]bool
	seen  map[string]bool
}

// NewPeerCheck builds the check over /proc/net/tcp and tcp6.
func NewPeerCheck(cfg config.PeerConfig) *PeerCheck {
	known := make(map[string]bool, len(cfg.KnownPeers))
	for _, p := range cfg.KnownPeers {
		known[p] = true
	}
	return &PeerCheck{
		cfg:   cfg,
		files: []string{"/proc/net/tcp", "/proc/net/tcp6"},
		known: known,
		seen:  make(map[string]bool),
	}
}

func (p *PeerCheck) Name() string            { return "peer" }
func (p *PeerCheck) Interval() time.Duration { return 60 * time.Second }

func (p *PeerCheck) Sample(ctx context.Context) ([]Finding, error) {
	var fresh []string
	for _, file := range p.files {
		peers, err := establishedPeers(file)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, addr := range peers {
			if p.known[addr] || p.seen[addr] {
				continue
			}
			p.seen[addr] = true
			fresh = append(fresh, addr)
		}
	}

	if len(fresh) == 0 {
		return nil, nil
	}
	// Severity scales with the batch; the finding itself is keyed per
	// remote address so one peer's cooldown cannot mute another's.
	sev := types.SeverityInfo
	if p.cfg.NewPeerCritical > 0 && len(fresh) >= p.cfg.NewPeerCritical {
		sev = types.SeverityCritical
	} else if p.cfg.NewPeerWarning > 0 && len(fresh) >= p.cfg.NewPeerWarning {
		sev = types.SeverityWarning
	}
	findings := make([]Finding, 0, len(fresh))
	for _, addr := range fresh {
		findings = append(findings, Finding{
			Type:     "peer",
			Device:   addr,
			Severity: sev,
			Message:  fmt.Sprintf("new remote peer %s", addr),
			Details:  map[string]any{"batch": len(fresh)},
		})
	}
	return findings, nil
}

// establishedPeers parses remote addresses of established connections
// from one /proc/net/tcp style file.
func establishedPeers(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var peers []string
	lines := strings.Split(string(data), "\n")
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 4 || fields[3] != tcpEstablished {
			continue
		}
		addr, err := parseHexAddr(fields[2])
		if err != nil {
			continue
		}
		peers = append(peers, addr)
	}
	return peers, nil
}

// parseHexAddr decodes the kernel's little-endian hex "ADDR:PORT" form.
func parseHexAddr(s string) (string, error) {
	host, portHex, ok := strings.Cut(s, ":")
	if !ok {
		return "", fmt.Errorf("malformed address %q", s)
	}
	port, err := strconv.ParseUint(portHex, 16, 16)
	if err != nil {
		return "", err
	}

	raw, err := hexToBytes(host)
	if err != nil {
		return "", err
	}
	var ip net.IP
	switch len(raw) {
	case 4:
		v := binary.LittleEndian.Uint32(raw)
		ip = net.IPv4(byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	case 16:
		// Four little-endian 32-bit groups.
		ip = make(net.IP, 16)
		for g := 0; g < 4; g++ {
			v := binary.LittleEndian.Uint32(raw[g*4 : g*4+4])
			binary.BigEndian.PutUint32(ip[g*4:g*4+4], v)
		}
	default:
		return "", fmt.Errorf("unexpected address length %d", len(raw))
	}
	return net.JoinHostPort(ip.String(), strconv.FormatUint(port, 10)), nil
}

func hexToBytes(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd hex length")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		v, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil, err
		}
		out[i] = byte(v)
	}
	return out, nil
}
