package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/address"
	"github.com/backkem/btmesh/pkg/bearer"
	"github.com/backkem/btmesh/pkg/directory"
	"github.com/backkem/btmesh/pkg/discovery"
	"github.com/backkem/btmesh/pkg/mesh"
	"github.com/backkem/btmesh/pkg/metrics"
	"github.com/backkem/btmesh/pkg/models"
	"github.com/backkem/btmesh/pkg/params"
	"github.com/backkem/btmesh/pkg/trace"
)

// genericOnOffServer is the SIG model identifier served by the node.
const genericOnOffServer uint32 = 0x1000

// rebrowseInterval between DNS-SD browses for new peers.
const rebrowseInterval = time.Minute

// Node is a mesh node on the UDP bearer.
type Node struct {
	opts Options
	log  logging.LeveledLogger

	dir     *directory.MemoryDirectory
	udp     *bearer.UDP
	manager *mesh.NetworkManager

	tracer   *trace.FileLogger
	registry *prometheus.Registry

	advertiser *discovery.Advertiser
	resolver   *discovery.Resolver

	mu    sync.Mutex
	onOff map[address.Address]bool
}

// NewNode loads the network and creates the bearer and network manager.
// Nothing is sent or received until Run.
func NewNode(opts Options) (*Node, error) {
	loggerFactory := logging.NewDefaultLoggerFactory()
	n := &Node{
		opts:  opts,
		log:   loggerFactory.NewLogger("mesh-node"),
		onOff: make(map[address.Address]bool),
	}

	dir, err := directory.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load directory: %w", err)
	}
	local := dir.LocalNode()
	if local == nil {
		return nil, errors.New("directory has no local node")
	}
	n.dir = dir

	parameters := params.Default()
	if opts.NetworkPath != "" {
		if parameters, err = params.Load(opts.NetworkPath); err != nil {
			return nil, fmt.Errorf("load network parameters: %w", err)
		}
	}

	var tracer trace.Logger
	if opts.TracePath != "" {
		if n.tracer, err = trace.NewFileLogger(opts.TracePath); err != nil {
			return nil, fmt.Errorf("open trace: %w", err)
		}
		tracer = n.tracer
	}

	var recorder *metrics.Recorder
	if opts.MetricsAddr != "" {
		n.registry = prometheus.NewRegistry()
		recorder = metrics.NewRecorder(n.registry)
	}

	n.udp, err = bearer.NewUDP(bearer.UDPConfig{
		ListenAddr:    opts.ListenAddr,
		Peers:         opts.Peers,
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		n.closeTrace()
		return nil, fmt.Errorf("create UDP bearer: %w", err)
	}

	n.manager, err = mesh.NewNetworkManager(mesh.Config{
		Directory:     dir,
		Transmitter:   n.udp,
		Parameters:    parameters,
		Trace:         tracer,
		Metrics:       recorder,
		LoggerFactory: loggerFactory,
		OnEvent:       n.onEvent,
	})
	if err != nil {
		n.udp.Close()
		n.closeTrace()
		return nil, fmt.Errorf("create network manager: %w", err)
	}
	n.udp.SetHandler(n.manager.HandlePDU)

	for _, e := range local.Elements {
		if _, ok := e.Model(genericOnOffServer); ok {
			n.manager.RegisterHandler(e.Address, mesh.HandlerFunc(n.handleOnOff))
		}
	}

	if opts.Advertise {
		n.advertiser, err = discovery.NewAdvertiser(discovery.AdvertiserConfig{
			Port:          n.port(),
			LoggerFactory: loggerFactory,
		})
		if err == nil {
			n.resolver, err = discovery.NewResolver(discovery.ResolverConfig{LoggerFactory: loggerFactory})
		}
		if err != nil {
			n.manager.Close()
			n.udp.Close()
			n.closeTrace()
			return nil, fmt.Errorf("create discovery: %w", err)
		}
	}

	return n, nil
}

// Run starts the node and blocks until SIGINT or SIGTERM.
func (n *Node) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := n.udp.Start(); err != nil {
		return fmt.Errorf("start bearer: %w", err)
	}

	var wg sync.WaitGroup
	var server *http.Server
	if n.registry != nil {
		server = &http.Server{Addr: n.opts.MetricsAddr, Handler: metrics.Handler(n.registry)}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				n.log.Errorf("metrics server: %v", err)
			}
		}()
	}

	if n.advertiser != nil {
		n.startDiscovery(ctx, &wg)
	}

	if n.opts.BeaconInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.beaconLoop(ctx)
		}()
	}

	local := n.dir.LocalNode()
	log.Printf("Mesh node %q ready: unicast %s, %d element(s), listening on %s",
		local.Name, local.Unicast, len(local.Elements), n.udp.LocalAddr())

	<-ctx.Done()
	log.Println("Shutting down...")

	var errs []error
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, server.Shutdown(shutdownCtx))
		cancel()
	}
	if n.advertiser != nil {
		errs = append(errs, n.advertiser.Close())
	}
	wg.Wait()
	errs = append(errs, n.manager.Close(), n.udp.Close(), n.closeTrace())
	return errors.Join(errs...)
}

func (n *Node) beaconLoop(ctx context.Context) {
	if err := n.manager.SendBeacons(false); err != nil {
		n.log.Warnf("send beacons: %v", err)
	}
	ticker := time.NewTicker(n.opts.BeaconInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.manager.SendBeacons(false); err != nil {
				n.log.Warnf("send beacons: %v", err)
			}
		}
	}
}

// startDiscovery advertises the bearer once per network key and browses
// for peers of the same networks.
func (n *Node) startDiscovery(ctx context.Context, wg *sync.WaitGroup) {
	local := n.dir.LocalNode()
	for _, nk := range n.dir.NetworkKeys() {
		networkID := nk.Derivatives().NetworkID
		txt := discovery.MeshTXT{NetworkID: networkID, Unicast: local.Unicast}
		if err := n.advertiser.Start(txt); err != nil {
			n.log.Warnf("advertise network %x: %v", networkID, err)
			continue
		}
		log.Printf("Advertising network %x as %q", networkID, n.advertiser.InstanceName(networkID))

		wg.Add(1)
		go func() {
			defer wg.Done()
			n.browseLoop(ctx, networkID)
		}()
	}
}

func (n *Node) browseLoop(ctx context.Context, networkID []byte) {
	for {
		peers, err := n.resolver.Browse(ctx, networkID)
		if err != nil {
			n.log.Warnf("browse network %x: %v", networkID, err)
			return
		}
		for p := range peers {
			n.addPeer(p)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(rebrowseInterval):
		}
	}
}

func (n *Node) addPeer(p discovery.Peer) {
	if p.Unicast == n.dir.LocalNode().Unicast {
		return
	}
	addr := p.UDPAddr()
	if addr == nil {
		return
	}
	n.log.Infof("discovered %s (%s) at %s", p.InstanceName, p.Unicast, addr)
	n.udp.AddPeer(addr)
}

// handleOnOff serves Generic OnOff messages addressed to an element.
func (n *Node) handleOnOff(req *mesh.Request) access.Message {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch m := req.Message.(type) {
	case models.GenericOnOffGet:
		return &models.GenericOnOffStatus{Present: n.onOff[req.Element]}
	case *models.GenericOnOffSet:
		n.setOnOff(req, m.On)
		return &models.GenericOnOffStatus{Present: m.On}
	case *models.GenericOnOffSetUnacknowledged:
		n.setOnOff(req, m.On)
	}
	return nil
}

func (n *Node) setOnOff(req *mesh.Request, on bool) {
	if n.onOff[req.Element] == on {
		return
	}
	n.onOff[req.Element] = on
	state := "OFF"
	if on {
		state = "ON"
	}
	log.Printf("Element %s is now %s (set by %s)", req.Element, state, req.Source)
}

func (n *Node) onEvent(e mesh.Event) {
	switch ev := e.(type) {
	case mesh.MessageSendingFailed:
		n.log.Warnf("%s", ev)
	case mesh.NetworkDidReset:
		log.Println("Node was reset by the configuration client")
	default:
		n.log.Infof("%s", ev)
	}
}

func (n *Node) port() int {
	if addr, ok := n.udp.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return discovery.DefaultPort
}

func (n *Node) closeTrace() error {
	if n.tracer == nil {
		return nil
	}
	return n.tracer.Close()
}
