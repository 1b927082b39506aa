// mesh-node runs a Bluetooth Mesh node over the UDP bearer.
//
// The node, its keys and the rest of the network are read from a YAML
// directory file. Received messages and network changes are logged.
//
// Usage:
//
//	mesh-node -config network.yaml [options]
//
// Options:
//
//	-config     Network directory YAML (required)
//	-network    Network parameters YAML (default: built-in defaults)
//	-listen     UDP listen address (default: ":29830")
//	-peer       Peer address, repeatable
//	-trace      Append a CBOR PDU trace to this file
//	-metrics    Serve Prometheus metrics on this address
//	-advertise  Advertise and browse peers via DNS-SD
//	-beacon     Secure Network beacon interval (default: 10s, 0 disables)
//
// Example:
//
//	mesh-node -config light.yaml -listen :29831 -peer 192.168.1.20:29830
package main

import (
	"log"
)

func main() {
	opts, err := ParseFlags()
	if err != nil {
		log.Fatalf("Invalid options: %v", err)
	}

	node, err := NewNode(opts)
	if err != nil {
		log.Fatalf("Failed to create mesh node: %v", err)
	}

	// Run the node (blocks until interrupted)
	if err := node.Run(); err != nil {
		log.Fatalf("Node error: %v", err)
	}
}
