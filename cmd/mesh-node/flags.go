package main

import (
	"errors"
	"flag"
	"net"
	"os"
	"strings"
	"time"
)

// Options holds the mesh-node command line flags.
type Options struct {
	// ConfigPath is the network directory YAML.
	ConfigPath string

	// NetworkPath is the optional network parameters YAML.
	NetworkPath string

	// ListenAddr is the UDP bearer listen address.
	ListenAddr string

	// Peers receive every PDU sent by the node.
	Peers []net.Addr

	// TracePath is the CBOR trace file. Empty disables tracing.
	TracePath string

	// MetricsAddr serves /metrics. Empty disables metrics.
	MetricsAddr string

	// Advertise enables DNS-SD advertising and peer browsing.
	Advertise bool

	// BeaconInterval between Secure Network beacons. Zero disables them.
	BeaconInterval time.Duration
}

// DefaultOptions returns Options with the defaults used by ParseFlags.
func DefaultOptions() Options {
	return Options{
		ListenAddr:     ":29830",
		BeaconInterval: 10 * time.Second,
	}
}

// ParseFlags parses the command line.
func ParseFlags() (Options, error) {
	return parseFlags(flag.CommandLine, os.Args[1:])
}

func parseFlags(fs *flag.FlagSet, args []string) (Options, error) {
	o := DefaultOptions()

	fs.StringVar(&o.ConfigPath, "config", "", "Network directory YAML (required)")
	fs.StringVar(&o.NetworkPath, "network", "", "Network parameters YAML")
	fs.StringVar(&o.ListenAddr, "listen", o.ListenAddr, "UDP listen address")
	fs.Func("peer", "Peer UDP address (repeatable)", func(s string) error {
		addr, err := net.ResolveUDPAddr("udp", s)
		if err != nil {
			return err
		}
		o.Peers = append(o.Peers, addr)
		return nil
	})
	fs.StringVar(&o.TracePath, "trace", "", "Append a CBOR PDU trace to this file")
	fs.StringVar(&o.MetricsAddr, "metrics", "", "Serve Prometheus metrics on this address")
	fs.BoolVar(&o.Advertise, "advertise", false, "Advertise and browse peers via DNS-SD")
	fs.DurationVar(&o.BeaconInterval, "beacon", o.BeaconInterval, "Secure Network beacon interval (0 disables)")

	if err := fs.Parse(args); err != nil {
		return o, err
	}

	if strings.TrimSpace(o.ConfigPath) == "" {
		return o, errors.New("-config is required")
	}
	if o.BeaconInterval < 0 {
		return o, errors.New("-beacon must not be negative")
	}
	return o, nil
}
