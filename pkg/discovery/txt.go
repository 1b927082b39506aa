package discovery

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/backkem/btmesh/pkg/address"
)

// DNS-SD service constants.
const (
	// ServiceMesh is the service type of mesh nodes reachable over the UDP
	// bearer.
	ServiceMesh = "_btmesh._udp"

	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
)

// TXT record keys.
const (
	// TXTKeyNetworkID carries the Network ID of the advertised network key
	// as 16 hex characters.
	TXTKeyNetworkID = "nid"

	// TXTKeyUnicast carries the primary unicast address of the node.
	TXTKeyUnicast = "uni"
)

// NetworkIDSize is the length of a Network ID.
const NetworkIDSize = 8

// MeshTXT is the TXT record of a mesh node.
type MeshTXT struct {
	// NetworkID identifies the network key the node transmits with
	// (required).
	NetworkID []byte

	// Unicast is the node's primary element address (optional).
	Unicast address.Address
}

// Validate checks the record.
func (t MeshTXT) Validate() error {
	if len(t.NetworkID) != NetworkIDSize {
		return ErrInvalidNetworkID
	}
	return nil
}

// Encode returns the TXT strings.
func (t MeshTXT) Encode() []string {
	txt := []string{fmt.Sprintf("%s=%s", TXTKeyNetworkID, hex.EncodeToString(t.NetworkID))}
	if t.Unicast != address.Unassigned {
		txt = append(txt, fmt.Sprintf("%s=%04x", TXTKeyUnicast, uint16(t.Unicast)))
	}
	return txt
}

// ParseTXT parses TXT records into a key-value map.
// Each record should be in "key=value" format.
func ParseTXT(records []string) map[string]string {
	result := make(map[string]string)
	for _, record := range records {
		if idx := strings.IndexByte(record, '='); idx > 0 {
			result[record[:idx]] = record[idx+1:]
		}
	}
	return result
}

// ParseMeshTXT parses raw TXT records into a MeshTXT.
func ParseMeshTXT(records []string) (*MeshTXT, error) {
	m := ParseTXT(records)
	txt := &MeshTXT{}

	nid, err := hex.DecodeString(m[TXTKeyNetworkID])
	if err != nil || len(nid) != NetworkIDSize {
		return nil, ErrInvalidNetworkID
	}
	txt.NetworkID = nid

	if v, ok := m[TXTKeyUnicast]; ok {
		u, err := strconv.ParseUint(v, 16, 16)
		if err != nil || !address.Address(u).IsUnicast() {
			return nil, ErrInvalidTXTRecord
		}
		txt.Unicast = address.Address(u)
	}
	return txt, nil
}
