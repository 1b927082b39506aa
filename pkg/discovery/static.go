package discovery

import (
	"context"
	"net"
	"slices"
	"sync"

	"github.com/grandcat/zeroconf"
)

// StaticBrowser is a Browser answering from a fixed list of entries, for
// tests and networks without multicast.
type StaticBrowser struct {
	mu      sync.Mutex
	entries []*zeroconf.ServiceEntry
}

// Add appends an entry returned by later browses.
func (b *StaticBrowser) Add(entry *zeroconf.ServiceEntry) {
	b.mu.Lock()
	b.entries = append(b.entries, entry)
	b.mu.Unlock()
}

func (b *StaticBrowser) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	b.mu.Lock()
	list := slices.Clone(b.entries)
	b.mu.Unlock()

	for _, e := range list {
		if e.Service != service {
			continue
		}
		select {
		case entries <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// MeshEntry builds the entry a node advertising txt on ip:port would
// answer with.
func MeshEntry(instance string, ip net.IP, port int, txt MeshTXT) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, ServiceMesh, DefaultDomain)
	e.HostName = instance + "." + DefaultDomain
	e.Port = port
	e.Text = txt.Encode()
	if ip.To4() != nil {
		e.AddrIPv4 = []net.IP{ip}
	} else {
		e.AddrIPv6 = []net.IP{ip}
	}
	return e
}
