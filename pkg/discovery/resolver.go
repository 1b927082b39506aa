package discovery

import (
	"bytes"
	"context"
	"net"
	"slices"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"

	"github.com/backkem/btmesh/pkg/address"
)

// DefaultBrowseTimeout bounds a Browse whose context has no deadline.
const DefaultBrowseTimeout = 10 * time.Second

// Peer is a discovered mesh node.
type Peer struct {
	InstanceName string
	HostName     string

	// Port is the UDP bearer port.
	Port int

	// IPs are ordered best first, see SortIPsByPreference.
	IPs []net.IP

	NetworkID []byte
	Unicast   address.Address
}

// UDPAddr returns the bearer address of the peer's preferred IP, or nil.
func (p *Peer) UDPAddr() *net.UDPAddr {
	if len(p.IPs) == 0 {
		return nil
	}
	return &net.UDPAddr{IP: p.IPs[0], Port: p.Port}
}

// Browser lists DNS-SD instances of a service. Browse returns once ctx is
// done or no more entries will be sent, and never closes entries.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func newZeroconfResolver() (*zeroconfResolver, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &zeroconfResolver{resolver: r}, nil
}

// Browse forwards entries until zeroconf closes its own channel, which it
// does when ctx is done.
func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	in := make(chan *zeroconf.ServiceEntry)
	if err := z.resolver.Browse(ctx, service, domain, in); err != nil {
		return err
	}
	for e := range in {
		select {
		case entries <- e:
		case <-ctx.Done():
		}
	}
	return nil
}

type ResolverConfig struct {
	// Browser defaults to a zeroconf resolver on all interfaces.
	Browser Browser

	// BrowseTimeout defaults to DefaultBrowseTimeout.
	BrowseTimeout time.Duration

	LoggerFactory logging.LoggerFactory
}

// Resolver discovers mesh nodes via DNS-SD.
type Resolver struct {
	config   ResolverConfig
	browser  Browser
	log      logging.LeveledLogger
}

func NewResolver(config ResolverConfig) (*Resolver, error) {
	browser := config.Browser
	if browser == nil {
		zr, err := newZeroconfResolver()
		if err != nil {
			return nil, err
		}
		browser = zr
	}
	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}

	r := &Resolver{config: config, browser: browser}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("discovery")
	}
	return r, nil
}

// Browse discovers nodes advertising the network with the given Network
// ID. The channel is closed when ctx is done or the browse timeout
// expires. Entries with a malformed TXT record or another Network ID are
// skipped.
func (r *Resolver) Browse(ctx context.Context, networkID []byte) (<-chan Peer, error) {
	if len(networkID) != NetworkIDSize {
		return nil, ErrInvalidNetworkID
	}

	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); ok {
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = context.WithTimeout(ctx, r.config.BrowseTimeout)
	}

	results := make(chan Peer)
	entries := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(results)
		defer cancel()

		go func() {
			defer close(entries)
			if err := r.browser.Browse(ctx, ServiceMesh, DefaultDomain, entries); err != nil && r.log != nil {
				r.log.Warnf("browse %s: %v", ServiceMesh, err)
			}
		}()

		for entry := range entries {
			peer, ok := r.entryToPeer(entry)
			if !ok || !bytes.Equal(peer.NetworkID, networkID) {
				continue
			}
			select {
			case results <- peer:
			case <-ctx.Done():
				for range entries {
				}
				return
			}
		}
	}()

	return results, nil
}

func (r *Resolver) entryToPeer(entry *zeroconf.ServiceEntry) (Peer, bool) {
	txt, err := ParseMeshTXT(entry.Text)
	if err != nil {
		if r.log != nil {
			r.log.Debugf("ignoring %s: %v", entry.Instance, err)
		}
		return Peer{}, false
	}


	return Peer{
		InstanceName: entry.Instance,
		HostName:     entry.HostName,
		Port:         entry.Port,
		IPs:          SortIPsByPreference(slices.Concat(entry.AddrIPv4, entry.AddrIPv6)),
		NetworkID:    txt.NetworkID,
		Unicast:      txt.Unicast,
	}, true
}
