// ABOUTME: mDNS advertisement and lookup for the control server
// ABOUTME: Advertises _framesync._tcp and browses for running instances
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Resonate-Protocol/framesync/internal/version"
	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"
)

// ServiceType is the DNS-SD service type of the control server
const ServiceType = "_framesync._tcp"

// DefaultLookupTimeout bounds a single Lookup query
const DefaultLookupTimeout = 2 * time.Second

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string // websocket path, published as a TXT record
	Logger      zerolog.Logger
}

// Manager advertises one service until stopped
type Manager struct {
	config Config
	log    zerolog.Logger

	mu     sync.Mutex
	server *mdns.Server
}

// ServerInfo describes a discovered control server
type ServerInfo struct {
	Name string
	Host string
	Port int
	Path string
}

// Addr returns host:port
func (s ServerInfo) Addr() string {
	return net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	return &Manager{config: config, log: config.Logger}
}

// TXTRecords returns the TXT records published for the service
func (m *Manager) TXTRecords() []string {
	txt := []string{"version=" + version.Version}
	if m.config.Path != "" {
		txt = append(txt, "path="+m.config.Path)
	}
	return txt
}

// Advertise starts answering mDNS queries for the service
func (m *Manager) Advertise() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil {
		return nil
	}

	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		m.TXTRecords(),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}
	m.server = server

	m.log.Info().
		Str("name", m.config.ServiceName).
		Int("port", m.config.Port).
		Str("type", ServiceType).
		Msg("advertising mDNS service")
	return nil
}

// Stop withdraws the advertisement
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server == nil {
		return
	}
	if err := m.server.Shutdown(); err != nil {
		m.log.Warn().Err(err).Msg("mDNS shutdown")
	}
	m.server = nil
}

// Lookup queries the local network once for control servers
func Lookup(ctx context.Context, timeout time.Duration) ([]ServerInfo, error) {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	entries := make(chan *mdns.ServiceEntry, 16)
	var found []ServerInfo
	collected := make(chan struct{})

	go func() {
		defer close(collected)
		for entry := range entries {
			if info, ok := entryInfo(entry); ok {
				found = append(found, info)
			}
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Timeout = timeout
	params.Entries = entries
	params.DisableIPv6 = true

	err := mdns.Query(params)
	close(entries)
	<-collected

	if err != nil {
		return nil, fmt.Errorf("mdns query: %w", err)
	}
	return found, ctx.Err()
}

func entryInfo(entry *mdns.ServiceEntry) (ServerInfo, bool) {
	if entry == nil || entry.AddrV4 == nil {
		return ServerInfo{}, false
	}
	if !strings.Contains(entry.Name, ServiceType) {
		return ServerInfo{}, false
	}

	info := ServerInfo{
		Name: instanceName(entry.Name),
		Host: entry.AddrV4.String(),
		Port: entry.Port,
	}
	for _, field := range entry.InfoFields {
		if path, ok := strings.CutPrefix(field, "path="); ok {
			info.Path = path
		}
	}
	return info, true
}

// instanceName strips the service type and domain from a full DNS-SD name
func instanceName(full string) string {
	if i := strings.Index(full, "."+ServiceType); i >= 0 {
		return strings.ReplaceAll(full[:i], `\ `, " ")
	}
	return full
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
