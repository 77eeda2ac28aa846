package discovery

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/ambisense/pkg/ambisense"
	"github.com/urmzd/ambisense/pkg/device"
)

const (
	// ServiceType is the DNS-SD service AmbiSense firmware registers.
	ServiceType = "_http._tcp"

	// Domain is the mDNS browse domain.
	Domain = "local."

	// DefaultBrowseTimeout is how long a scan listens for announcements.
	DefaultBrowseTimeout = 3 * time.Second

	SourceMDNS     = "mdns"
	SourceFallback = "fallback"
)

// FallbackLocations are tried as ambisense-<location>.local when mDNS
// browsing finds nothing for them.
var FallbackLocations = []string{"livingroom", "bedroom", "kitchen", "home", "office"}

// Device is a discovered AmbiSense candidate.
type Device struct {
	Name      string   `json:"name"`
	Host      string   `json:"host"`
	Port      int      `json:"port,omitempty"`
	Addresses []string `json:"addresses,omitempty"`
	Source    string   `json:"source"`
	Verified  bool     `json:"verified"`
}

// BrowseFunc browses one DNS-SD service type until ctx is done.
type BrowseFunc func(ctx context.Context, service, domain string, entries, removed chan *zeroconf.ServiceEntry) error

// ResolveFunc resolves a hostname to addresses.
type ResolveFunc func(ctx context.Context, host string) ([]string, error)

// ProbeFunc checks that host answers like an AmbiSense device.
type ProbeFunc func(ctx context.Context, host string) error

// Scanner finds AmbiSense devices on the local network.
type Scanner struct {
	browse  BrowseFunc
	resolve ResolveFunc
	probe   ProbeFunc
	timeout time.Duration
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithInterface restricts mDNS browsing to the named network interface.
func WithInterface(name string) Option {
	return func(s *Scanner) {
		if name == "" {
			return
		}
		iface, err := net.InterfaceByName(name)
		if err != nil {
			log.Warn().Err(err).Str("interface", name).Msg("Unknown interface, browsing on all")
			return
		}
		s.browse = zeroconfBrowse(zeroconf.SelectIfaces([]net.Interface{*iface}))
	}
}

// WithBrowseTimeout sets how long a scan listens for announcements.
func WithBrowseTimeout(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithBrowser replaces the mDNS browser.
func WithBrowser(fn BrowseFunc) Option {
	return func(s *Scanner) {
		s.browse = fn
	}
}

// WithResolver replaces hostname resolution for the fallback names.
func WithResolver(fn ResolveFunc) Option {
	return func(s *Scanner) {
		s.resolve = fn
	}
}

// WithProber replaces the device probe.
func WithProber(fn ProbeFunc) Option {
	return func(s *Scanner) {
		s.probe = fn
	}
}

// NewScanner creates a scanner using zeroconf and the system resolver.
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		browse:  zeroconfBrowse(),
		resolve: net.DefaultResolver.LookupHost,
		probe:   Probe,
		timeout: DefaultBrowseTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func zeroconfBrowse(opts ...zeroconf.ClientOption) BrowseFunc {
	return func(ctx context.Context, service, domain string, entries, removed chan *zeroconf.ServiceEntry) error {
		return zeroconf.Browse(ctx, service, domain, entries, removed, opts...)
	}
}

// Probe validates a candidate host with the AmbiSense client.
func Probe(ctx context.Context, host string) error {
	c := ambisense.NewClient(host)
	defer c.Close()
	return c.Probe(ctx)
}

// Scan browses mDNS, then resolves the fallback hostnames not already seen.
// When verify is set every candidate is probed and Verified records the result.
func (s *Scanner) Scan(ctx context.Context, verify bool) ([]Device, error) {
	found := make(map[string]Device)

	for _, d := range s.browseMDNS(ctx) {
		found[d.Name] = d
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, d := range s.resolveFallbacks(ctx, found) {
		found[d.Name] = d
	}

	devices := make([]Device, 0, len(found))
	for _, d := range found {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })

	if verify {
		s.verify(ctx, devices)
	}

	log.Info().Int("count", len(devices)).Msg("Discovery scan finished")
	return devices, nil
}

func (s *Scanner) browseMDNS(ctx context.Context) []Device {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		if err := s.browse(ctx, ServiceType, Domain, entries, removed); err != nil {
			log.Warn().Err(err).Msg("mDNS browse failed")
		}
	}()

	found := make(map[string]Device)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return collect(found)
			}
			d, ok := entryToDevice(entry)
			if !ok {
				continue
			}
			if existing, seen := found[d.Name]; seen {
				d.Addresses = mergeAddresses(existing.Addresses, d.Addresses)
				d.Host = existing.Host
			}
			found[d.Name] = d
			log.Debug().Str("name", d.Name).Str("host", d.Host).Msg("Found AmbiSense device via mDNS")

		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			delete(found, instanceName(entry))

		case <-ctx.Done():
			return collect(found)
		}
	}
}

func (s *Scanner) resolveFallbacks(ctx context.Context, seen map[string]Device) []Device {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out []Device
	)
	for _, location := range FallbackLocations {
		name := device.MDNSPrefix + location
		if _, ok := seen[name]; ok {
			continue
		}

		wg.Add(1)
		go func(name string) {
			defer wg.Done()

			rctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			addrs, err := s.resolve(rctx, name+".local")
			if err != nil || len(addrs) == 0 {
				return
			}
			d := Device{
				Name:      name,
				Host:      preferIPv4(addrs),
				Addresses: addrs,
				Source:    SourceFallback,
			}
			mu.Lock()
			out = append(out, d)
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return out
}

func (s *Scanner) verify(ctx context.Context, devices []Device) {
	var wg sync.WaitGroup
	for i := range devices {
		wg.Add(1)
		go func(d *Device) {
			defer wg.Done()
			if err := s.probe(ctx, d.Host); err != nil {
				log.Debug().Err(err).Str("host", d.Host).Msg("Candidate did not answer like an AmbiSense device")
				return
			}
			d.Verified = true
		}(&devices[i])
	}
	wg.Wait()
}

func entryToDevice(entry *zeroconf.ServiceEntry) (Device, bool) {
	if entry == nil {
		return Device{}, false
	}
	name := instanceName(entry)
	if !strings.HasPrefix(name, device.MDNSPrefix) {
		return Device{}, false
	}

	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	host := strings.TrimSuffix(entry.HostName, ".")
	if len(addrs) > 0 {
		host = preferIPv4(addrs)
	}
	if entry.Port != 0 && entry.Port != 80 {
		host = net.JoinHostPort(host, strconv.Itoa(entry.Port))
	}

	return Device{
		Name:      name,
		Host:      host,
		Port:      entry.Port,
		Addresses: addrs,
		Source:    SourceMDNS,
	}, true
}

// instanceName is the lowercase device name without any .local suffix.
func instanceName(entry *zeroconf.ServiceEntry) string {
	name := strings.ToLower(entry.Instance)
	if !strings.HasPrefix(name, device.MDNSPrefix) {
		name = strings.ToLower(entry.HostName)
	}
	name = strings.TrimSuffix(name, ".")
	return strings.TrimSuffix(name, ".local")
}

func preferIPv4(addrs []string) string {
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a
		}
	}
	return addrs[0]
}

func mergeAddresses(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, addr := range append(append([]string(nil), a...), b...) {
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	return out
}

func collect(found map[string]Device) []Device {
	out := make([]Device, 0, len(found))
	for _, d := range found {
		out = append(out, d)
	}
	return out
}
