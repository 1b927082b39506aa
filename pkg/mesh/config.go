package mesh

import (
	"github.com/pion/logging"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/bearer"
	"github.com/backkem/btmesh/pkg/directory"
	"github.com/backkem/btmesh/pkg/lower"
	"github.com/backkem/btmesh/pkg/metrics"
	"github.com/backkem/btmesh/pkg/models"
	"github.com/backkem/btmesh/pkg/network"
	"github.com/backkem/btmesh/pkg/params"
	"github.com/backkem/btmesh/pkg/reliability"
	"github.com/backkem/btmesh/pkg/trace"
)

// Config holds the configuration of a NetworkManager.
type Config struct {
	// Network - Required
	Directory   directory.Directory // Keys, nodes and the local node
	Transmitter bearer.Transmitter  // Outbound bearer

	// Network state - Optional
	IVIndex  network.IVIndex // Current IV Index (default: 0, normal operation)
	Sequence uint32          // First sequence number of every local element

	// Protocol parameters - Optional (uses params.Default() if zero)
	Parameters params.NetworkParameters

	// Registry decodes received access messages (default: all messages of
	// the models package).
	Registry *access.Registry

	// DisableConfigServer leaves configuration messages addressed to the
	// local node to registered handlers.
	DisableConfigServer bool

	// Capacity - Optional
	NetworkCacheSize          int // Recently seen network PDUs (default: 256)
	MaxConcurrentReassemblies int // Parallel incoming segmented messages (default: 8)

	// Callbacks - Optional
	OnEvent func(Event)

	// Observability - Optional
	LoggerFactory logging.LoggerFactory
	Metrics       *metrics.Recorder
	Trace         trace.Logger

	// Advanced - Testing
	Scheduler reliability.Scheduler // Timer source (default: wall clock)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Directory == nil {
		return ErrDirectoryRequired
	}

	if c.Transmitter == nil {
		return ErrTransmitterRequired
	}

	if c.IVIndex.UpdateActive && c.IVIndex.Index == 0 {
		return ErrInvalidIVIndex
	}

	return nil
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {
	if c.Parameters.DefaultTTL() == 0 {
		c.Parameters = params.Default()
	}

	if c.Registry == nil {
		c.Registry = access.NewRegistry()
		models.Register(c.Registry)
	}

	if c.Scheduler == nil {
		c.Scheduler = reliability.DefaultScheduler
	}

	if c.NetworkCacheSize <= 0 {
		c.NetworkCacheSize = network.DefaultCacheSize
	}

	if c.MaxConcurrentReassemblies <= 0 {
		c.MaxConcurrentReassemblies = lower.DefaultMaxConcurrentReassemblies
	}

	if c.Trace == nil {
		c.Trace = trace.NoopLogger{}
	}
}
