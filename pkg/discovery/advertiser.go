package discovery

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// DefaultPort is the default UDP bearer port.
const DefaultPort = 29830

// Service is one DNS-SD registration.
type Service struct {
	Instance   string
	Port       int
	Text       []string
	Interfaces []net.Interface // nil for all
}

// Registration is a live DNS-SD registration.
type Registration interface {
	Shutdown()
}

// Registrar publishes services of type ServiceMesh in DefaultDomain.
type Registrar interface {
	Register(svc Service) (Registration, error)
}

type zeroconfRegistrar struct{}

func (zeroconfRegistrar) Register(svc Service) (Registration, error) {
	return zeroconf.Register(svc.Instance, ServiceMesh, DefaultDomain, svc.Port, svc.Text, svc.Interfaces)
}

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	Port       int // UDP bearer port (default: DefaultPort)
	Interfaces []net.Interface

	// Registrar defaults to a zeroconf responder.
	Registrar Registrar

	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes the UDP bearer of a node, once per network it is
// part of.
type Advertiser struct {
	config AdvertiserConfig
	log    logging.LeveledLogger

	mu       sync.RWMutex
	networks map[[NetworkIDSize]byte]*advertisement
	closed   bool
}

type advertisement struct {
	instance string
	reg      Registration
}

func NewAdvertiser(config AdvertiserConfig) (*Advertiser, error) {
	switch {
	case config.Port == 0:
		config.Port = DefaultPort
	case config.Port < 0 || config.Port > 0xFFFF:
		return nil, ErrInvalidPort
	}
	if config.Registrar == nil {
		config.Registrar = zeroconfRegistrar{}
	}

	a := &Advertiser{
		config:   config,
		networks: make(map[[NetworkIDSize]byte]*advertisement),
	}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("discovery")
	}
	return a, nil
}

// Start advertises the network in txt. The instance name is the node's
// unicast address followed by a random suffix, so that two nodes sharing
// an address still register distinct instances.
func (a *Advertiser) Start(txt MeshTXT) error {
	if err := txt.Validate(); err != nil {
		return err
	}
	key := networkKey(txt.NetworkID)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if _, ok := a.networks[key]; ok {
		return ErrAlreadyStarted
	}

	var suffix [4]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return fmt.Errorf("discovery: instance name: %w", err)
	}
	instance := fmt.Sprintf("%04X-%s", uint16(txt.Unicast), hex.EncodeToString(suffix[:]))

	reg, err := a.config.Registrar.Register(Service{
		Instance:   instance,
		Port:       a.config.Port,
		Text:       txt.Encode(),
		Interfaces: a.config.Interfaces,
	})
	if err != nil {
		return fmt.Errorf("discovery: register %s: %w", instance, err)
	}
	a.networks[key] = &advertisement{instance: instance, reg: reg}

	if a.log != nil {
		a.log.Infof("advertising network %x as %s on port %d", txt.NetworkID, instance, a.config.Port)
	}
	return nil
}

// Stop withdraws the advertisement of a network.
func (a *Advertiser) Stop(networkID []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	key := networkKey(networkID)
	ad, ok := a.networks[key]
	if !ok {
		return ErrNotStarted
	}
	delete(a.networks, key)
	ad.reg.Shutdown()
	return nil
}

// Close withdraws every advertisement. Closing twice is a no-op.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	for key, ad := range a.networks {
		ad.reg.Shutdown()
		delete(a.networks, key)
	}
	return nil
}

func (a *Advertiser) IsAdvertising(networkID []byte) bool {
	return a.InstanceName(networkID) != ""
}

// InstanceName returns the instance a network is advertised as, or "".
func (a *Advertiser) InstanceName(networkID []byte) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if ad, ok := a.networks[networkKey(networkID)]; ok {
		return ad.instance
	}
	return ""
}

func networkKey(networkID []byte) [NetworkIDSize]byte {
	var k [NetworkIDSize]byte
	copy(k[:], networkID)
	return k
}
