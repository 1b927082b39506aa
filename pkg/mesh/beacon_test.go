package mesh

import (
	"encoding/hex"
	"testing"

	"github.com/backkem/btmesh/pkg/address"
	"github.com/backkem/btmesh/pkg/bearer"
	"github.com/backkem/btmesh/pkg/keys"
	"github.com/backkem/btmesh/pkg/models"
	"github.com/backkem/btmesh/pkg/network"
)

const (
	netKeyHex    = "7dd7364cd842ad18c17c2b820c84c3d6"
	newNetKeyHex = "f7a2a44f8e8a8029064f173ddc1e2b00"
	newAppKeyHex = "2c24619ab793c1233f6e226738393dec"
)

func mustKey(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// senderKey is a network key instance independent of any directory.
func senderKey(t *testing.T) *keys.NetworkKey {
	t.Helper()
	nk, err := keys.NewNetworkKey(0, mustKey(t, netKeyHex))
	if err != nil {
		t.Fatal(err)
	}
	return nk
}

func beacon(t *testing.T, nk *keys.NetworkKey, iv network.IVIndex) []byte {
	t.Helper()
	b, err := network.EncodeSecureBeacon(nk, iv)
	if err != nil {
		t.Fatalf("EncodeSecureBeacon() error = %v", err)
	}
	return b
}

func reasons(r *recorder) []string {
	var out []string
	for _, e := range eventsOf[NetworkDidChange](r) {
		out = append(out, e.Reason)
	}
	return out
}

func TestIVIndexFromBeacons(t *testing.T) {
	l, _, prov, light := newPair(t)
	nk := senderKey(t)

	if _, err := light.m.Send(&models.GenericOnOffSetUnacknowledged{}, 0, address.New(provisionerAddr), DefaultTTL, appKey(t, light.dir, 0)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	l.flush()
	if light.m.SequenceNumber(lightAddr) != 1 {
		t.Fatalf("SequenceNumber() = %d, want 1", light.m.SequenceNumber(lightAddr))
	}

	// Entering the update keeps transmitting with the old IV Index.
	light.m.HandlePDU(beacon(t, nk, network.IVIndex{Index: 1, UpdateActive: true}), bearer.MeshBeacon)
	if got := light.m.IVIndex(); got != (network.IVIndex{Index: 1, UpdateActive: true}) {
		t.Fatalf("IVIndex() = %+v", got)
	}
	if light.m.SequenceNumber(lightAddr) != 1 {
		t.Error("sequence reset while the transmit IV Index is unchanged")
	}

	light.m.HandlePDU(beacon(t, nk, network.IVIndex{Index: 1}), bearer.MeshBeacon)
	if got := light.m.IVIndex(); got != (network.IVIndex{Index: 1}) {
		t.Fatalf("IVIndex() = %+v", got)
	}
	if got := light.m.SequenceNumber(lightAddr); got != 0 {
		t.Errorf("SequenceNumber() after IV update = %d, want 0", got)
	}

	// Older and too distant IV Indexes are ignored.
	light.m.HandlePDU(beacon(t, nk, network.IVIndex{Index: 0}), bearer.MeshBeacon)
	light.m.HandlePDU(beacon(t, nk, network.IVIndex{Index: 44}), bearer.MeshBeacon)
	if got := light.m.IVIndex(); got != (network.IVIndex{Index: 1}) {
		t.Errorf("IVIndex() = %+v, want 1", got)
	}

	if got := reasons(light.events); len(got) != 2 || got[0] != ChangeIVIndex || got[1] != ChangeIVIndex {
		t.Errorf("NetworkDidChange reasons = %v", got)
	}
	if n := len(eventsOf[NetworkDidChange](prov.events)); n != 0 {
		t.Errorf("provisioner saw %d changes", n)
	}
}

func TestSendBeacons(t *testing.T) {
	l := &link{}
	s := newPairScheduler()
	prov := newTestNode(t, l, s, newDirectory(t, provisionerAddr), func(c *Config) {
		c.IVIndex = network.IVIndex{Index: 5}
	})
	light := newTestNode(t, l, s, newDirectory(t, lightAddr))
	light.m.RegisterHandler(lightAddr, onOffServerHandler(nil))

	if err := prov.m.SendBeacons(false); err != nil {
		t.Fatalf("SendBeacons() error = %v", err)
	}
	if n := l.sentBy(0, bearer.MeshBeacon); n != 1 {
		t.Fatalf("beacons sent = %d, want 1", n)
	}
	l.flush()
	if got := light.m.IVIndex(); got != (network.IVIndex{Index: 5}) {
		t.Fatalf("light IVIndex() = %+v, want 5", got)
	}

	// Both sides now agree on the IV Index.
	h, err := prov.m.Send(&models.GenericOnOffSet{On: true}, 0, address.New(lightAddr), DefaultTTL, appKey(t, prov.dir, 0))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	l.flush()
	mustResult(t, h)

	if err := light.m.SendBeacons(true); err != nil {
		t.Fatalf("SendBeacons(private) error = %v", err)
	}
	l.flush()
	if got := prov.m.IVIndex(); got != (network.IVIndex{Index: 5}) {
		t.Errorf("provisioner IVIndex() = %+v", got)
	}
}

func TestPrivateBeacon(t *testing.T) {
	_, _, _, light := newPair(t)
	data, err := network.EncodePrivateBeacon(senderKey(t), network.IVIndex{Index: 6, UpdateActive: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	light.m.HandlePDU(data, bearer.MeshBeacon)
	if got := light.m.IVIndex(); got != (network.IVIndex{Index: 6, UpdateActive: true}) {
		t.Errorf("IVIndex() = %+v", got)
	}
}

func TestBeaconFromUnknownNetwork(t *testing.T) {
	_, _, _, light := newPair(t)
	other, err := keys.NewNetworkKey(0, mustKey(t, newNetKeyHex))
	if err != nil {
		t.Fatal(err)
	}
	light.m.HandlePDU(beacon(t, other, network.IVIndex{Index: 3}), bearer.MeshBeacon)
	light.m.HandlePDU([]byte{0x01, 0x00}, bearer.MeshBeacon)
	if got := light.m.IVIndex(); got != (network.IVIndex{}) {
		t.Errorf("IVIndex() = %+v", got)
	}
	if n := len(light.events.all()); n != 0 {
		t.Errorf("events = %v", light.events.all())
	}
}

func TestKeyRefreshFromBeacons(t *testing.T) {
	_, _, _, light := newPair(t)
	newNet := mustKey(t, newNetKeyHex)

	local, ok := light.dir.NetworkKey(0)
	if !ok {
		t.Fatal("network key 0 missing")
	}
	if err := local.StartKeyRefresh(newNet); err != nil {
		t.Fatal(err)
	}
	ak := appKey(t, light.dir, 0)
	if err := ak.Update(mustKey(t, newAppKeyHex)); err != nil {
		t.Fatal(err)
	}

	sender := senderKey(t)
	if err := sender.StartKeyRefresh(newNet); err != nil {
		t.Fatal(err)
	}

	// Beacons secured with the old key do not move the phase.
	light.m.HandlePDU(beacon(t, sender, network.IVIndex{}), bearer.MeshBeacon)
	if local.Phase() != keys.KeyDistribution {
		t.Fatalf("phase = %v after old key beacon", local.Phase())
	}

	if err := sender.SetPhase(keys.UsingNewKeys); err != nil {
		t.Fatal(err)
	}
	light.m.HandlePDU(beacon(t, sender, network.IVIndex{}), bearer.MeshBeacon)
	if local.Phase() != keys.UsingNewKeys {
		t.Fatalf("phase = %v, want UsingNewKeys", local.Phase())
	}
	if ak.OldKey() == nil {
		t.Error("old application key revoked too early")
	}

	if err := sender.SetPhase(keys.NormalOperation); err != nil {
		t.Fatal(err)
	}
	light.m.HandlePDU(beacon(t, sender, network.IVIndex{}), bearer.MeshBeacon)
	if local.Phase() != keys.NormalOperation {
		t.Fatalf("phase = %v, want NormalOperation", local.Phase())
	}
	if local.OldKey() != nil || ak.OldKey() != nil {
		t.Error("old keys kept after the key refresh")
	}

	got := reasons(light.events)
	if len(got) != 2 || got[0] != ChangeKeyRefresh || got[1] != ChangeKeyRefresh {
		t.Errorf("NetworkDidChange reasons = %v", got)
	}
}
