// Package mesh provides the NetworkManager, the top-level facade of the
// Bluetooth Mesh protocol stack.
//
// The NetworkManager ties together the lower-level components (network
// layer, lower transport SAR, upper transport encryption, access layer and
// reliability) behind a small API. Outbound messages are resolved against a
// directory of keys and nodes, encrypted, segmented if needed and handed to
// a bearer. Inbound PDUs travel the other way and end up at a registered
// Handler or resolve an outstanding MessageHandle.
//
// # Creating a Manager
//
//	dir, err := directory.Load("network.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	udp, err := bearer.NewUDP(bearer.UDPConfig{ListenAddr: ":29830"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	m, err := mesh.NewNetworkManager(mesh.Config{
//	    Directory:   dir,
//	    Transmitter: udp,
//	    OnEvent: func(e mesh.Event) {
//	        log.Printf("mesh event: %v", e)
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	udp.SetHandler(m.HandlePDU)
//
// # Sending
//
// Send returns a MessageHandle. Acknowledged messages to a unicast address
// complete when the response arrives:
//
//	h, err := m.Send(&models.GenericOnOffSet{On: true}, 0, address.New(0x0010), mesh.DefaultTTL, appKey)
//	if err != nil {
//	    return err
//	}
//	status, err := h.Wait(ctx)
//
// Only one message to a given destination may be in flight; a second Send
// fails with access.ErrBusy until the first completes, fails or is
// cancelled.
//
// # Events
//
// Config.OnEvent receives MessageSent, MessageSendingFailed,
// MessageReceived, NetworkDidChange and NetworkDidReset. Events are
// delivered without any manager lock held, so the callback may call back
// into the manager.
package mesh
