package directory

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/backkem/btmesh/pkg/address"
	"github.com/backkem/btmesh/pkg/keys"
)

// Config is the YAML description of a network and the local node.
//
//	localNode: 0x0001
//	networkKeys:
//	  - index: 0
//	    key: 7dd7364cd842ad18c17c2b820c84c3d6
//	applicationKeys:
//	  - index: 0
//	    key: 63964771734fbd76e3b40519d1d94a48
//	    networkKey: 0
//	nodes:
//	  - name: provisioner
//	    unicast: 0x0001
//	    deviceKey: 9d6dd0e96eb25dc19a40ed9914f8f03f
//	    networkKeys: [0]
//	    applicationKeys: [0]
//	    elements:
//	      - models:
//	          - id: 0x1000
//	            bind: [0]
//	            subscribe: ["0xC000"]
type Config struct {
	LocalNode       address.Address `yaml:"localNode"`
	NetworkKeys     []KeyConfig     `yaml:"networkKeys"`
	ApplicationKeys []KeyConfig     `yaml:"applicationKeys"`
	Labels          []string        `yaml:"labels"`
	Nodes           []NodeConfig    `yaml:"nodes"`
}

type KeyConfig struct {
	Index  uint16 `yaml:"index"`
	Key    string `yaml:"key"`
	OldKey string `yaml:"oldKey,omitempty"`
	// Phase is the Key Refresh phase when OldKey is set: 1 or 2.
	Phase int `yaml:"phase,omitempty"`
	// NetworkKey is the bound network key index of an application key.
	NetworkKey uint16 `yaml:"networkKey"`
}

type NodeConfig struct {
	Name            string          `yaml:"name"`
	UUID            string          `yaml:"uuid"`
	Unicast         address.Address `yaml:"unicast"`
	DeviceKey       string          `yaml:"deviceKey"`
	NetworkKeys     []uint16        `yaml:"networkKeys"`
	ApplicationKeys []uint16        `yaml:"applicationKeys"`
	Elements        []ElementConfig `yaml:"elements"`
}

type ElementConfig struct {
	Location uint16        `yaml:"location"`
	Models   []ModelConfig `yaml:"models"`
}

type ModelConfig struct {
	ID        uint32             `yaml:"id"`
	Bind      []uint16           `yaml:"bind"`
	Subscribe []string           `yaml:"subscribe"`
	Publish   *PublicationConfig `yaml:"publish"`
}

type PublicationConfig struct {
	Address            string        `yaml:"address"`
	AppKey             uint16        `yaml:"appKey"`
	TTL                uint8         `yaml:"ttl"`
	Period             time.Duration `yaml:"period"`
	RetransmitCount    uint8         `yaml:"retransmitCount"`
	RetransmitInterval time.Duration `yaml:"retransmitInterval"`
}

// Load reads a directory from a YAML file.
func Load(path string) (*MemoryDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("directory: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document into a MemoryDirectory.
func Parse(data []byte) (*MemoryDirectory, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("directory: parse: %w", err)
	}
	return cfg.Build()
}

// Build creates a MemoryDirectory from the configuration.
func (c *Config) Build() (*MemoryDirectory, error) {
	d := NewMemoryDirectory()

	for _, kc := range c.NetworkKeys {
		nk, err := buildNetworkKey(kc)
		if err != nil {
			return nil, fmt.Errorf("directory: network key %d: %w", kc.Index, err)
		}
		d.AddNetworkKey(nk)
	}
	for _, kc := range c.ApplicationKeys {
		nk, ok := d.NetworkKey(kc.NetworkKey)
		if !ok {
			return nil, fmt.Errorf("directory: application key %d: %w", kc.Index, ErrUnknownNetworkKey)
		}
		key, err := hex.DecodeString(kc.Key)
		if err != nil {
			return nil, fmt.Errorf("directory: application key %d: %w", kc.Index, err)
		}
		ak, err := keys.NewApplicationKey(kc.Index, key, nk)
		if err != nil {
			return nil, fmt.Errorf("directory: application key %d: %w", kc.Index, err)
		}
		d.PutApplicationKey(ak)
	}
	for _, s := range c.Labels {
		label, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("directory: label %q: %w", s, err)
		}
		d.AddLabel(label)
	}
	for _, nc := range c.Nodes {
		n, err := nc.build(d)
		if err != nil {
			return nil, fmt.Errorf("directory: node %s: %w", nc.Unicast, err)
		}
		if err := d.AddNode(n); err != nil {
			return nil, fmt.Errorf("directory: node %s: %w", nc.Unicast, err)
		}
	}
	if c.LocalNode != address.Unassigned {
		if _, ok := d.Node(c.LocalNode); !ok {
			return nil, fmt.Errorf("directory: local node %s: %w", c.LocalNode, ErrNoLocalNode)
		}
		d.SetLocalNode(c.LocalNode)
	}
	return d, nil
}

func buildNetworkKey(kc KeyConfig) (*keys.NetworkKey, error) {
	key, err := hex.DecodeString(kc.Key)
	if err != nil {
		return nil, err
	}
	if kc.OldKey == "" {
		return keys.NewNetworkKey(kc.Index, key)
	}
	old, err := hex.DecodeString(kc.OldKey)
	if err != nil {
		return nil, err
	}
	nk, err := keys.NewNetworkKey(kc.Index, old)
	if err != nil {
		return nil, err
	}
	if err := nk.StartKeyRefresh(key); err != nil {
		return nil, err
	}
	if kc.Phase == int(keys.UsingNewKeys) {
		if err := nk.SetPhase(keys.UsingNewKeys); err != nil {
			return nil, err
		}
	}
	return nk, nil
}

func (nc NodeConfig) build(d *MemoryDirectory) (*Node, error) {
	if !nc.Unicast.IsUnicast() {
		return nil, fmt.Errorf("%s is not a unicast address", nc.Unicast)
	}
	var deviceKey []byte
	if nc.DeviceKey != "" {
		var err error
		if deviceKey, err = hex.DecodeString(nc.DeviceKey); err != nil {
			return nil, err
		}
	}
	elements := make([]*Element, 0, len(nc.Elements))
	for _, ec := range nc.Elements {
		e := &Element{Location: ec.Location}
		for _, mc := range ec.Models {
			m, err := mc.build(d)
			if err != nil {
				return nil, fmt.Errorf("model %#x: %w", mc.ID, err)
			}
			e.Models = append(e.Models, m)
		}
		elements = append(elements, e)
	}
	n := NewNode(nc.Name, nc.Unicast, deviceKey, elements...)
	n.UUID = nc.UUID
	n.NetworkKeys = nc.NetworkKeys
	n.ApplicationKeys = nc.ApplicationKeys
	return n, nil
}

func (mc ModelConfig) build(d *MemoryDirectory) (*Model, error) {
	m := &Model{ID: mc.ID, Bindings: mc.Bind}
	for _, s := range mc.Subscribe {
		a, err := ParseAddress(s)
		if err != nil {
			return nil, err
		}
		if a.Label != nil {
			d.AddLabel(*a.Label)
		}
		m.Subscriptions = append(m.Subscriptions, a)
	}
	if p := mc.Publish; p != nil {
		a, err := ParseAddress(p.Address)
		if err != nil {
			return nil, err
		}
		if a.Label != nil {
			d.AddLabel(*a.Label)
		}
		m.Publication = &Publication{
			Address:            a,
			AppKeyIndex:        p.AppKey,
			TTL:                p.TTL,
			Period:             p.Period,
			RetransmitCount:    p.RetransmitCount,
			RetransmitInterval: p.RetransmitInterval,
		}
	}
	return m, nil
}

// ParseAddress accepts a numeric address ("0xC000", "49152") or a Label
// UUID, which yields a virtual address.
func ParseAddress(s string) (address.MeshAddress, error) {
	if label, err := uuid.Parse(s); err == nil {
		return address.NewVirtual(label)
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return address.MeshAddress{}, fmt.Errorf("invalid address %q", s)
	}
	return address.New(address.Address(v)), nil
}
