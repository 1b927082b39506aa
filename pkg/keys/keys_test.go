package keys

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func hexKey(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

const (
	sampleNetKey = "7dd7364cd842ad18c17c2b820c84c3d6"
	sampleAppKey = "63964771734fbd76e3b40519d1d94a48"
	otherNetKey  = "f7a2a44f8e8a8029064f173ddc1e2b00"
	otherAppKey  = "3216d1509884b533248541792b877f98"
)

type node struct{ key []byte }

func (n node) DeviceKey() []byte { return n.key }

func TestNetworkKeyDerivatives(t *testing.T) {
	k, err := NewNetworkKey(0, hexKey(t, sampleNetKey))
	if err != nil {
		t.Fatalf("NewNetworkKey() error = %v", err)
	}
	d := k.Derivatives()
	if d.NID != 0x68 {
		t.Errorf("NID = %#x, want 0x68", d.NID)
	}
	if got := hex.EncodeToString(d.NetworkID); got != "3ecaff672f673370" {
		t.Errorf("NetworkID = %s, want 3ecaff672f673370", got)
	}
	if len(k.ReceiveDerivatives()) != 1 {
		t.Errorf("ReceiveDerivatives() outside refresh = %d candidates, want 1", len(k.ReceiveDerivatives()))
	}

	if _, err := NewNetworkKey(0x1000, hexKey(t, sampleNetKey)); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("index 0x1000 error = %v, want ErrInvalidIndex", err)
	}
	if _, err := NewNetworkKey(0, []byte{1, 2, 3}); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("short key error = %v, want ErrInvalidKey", err)
	}
}

func TestNetworkKeyRefresh(t *testing.T) {
	k, _ := NewNetworkKey(0, hexKey(t, sampleNetKey))
	oldNID := k.Derivatives().NID

	if err := k.StartKeyRefresh(hexKey(t, otherNetKey)); err != nil {
		t.Fatalf("StartKeyRefresh() error = %v", err)
	}
	if k.Phase() != KeyDistribution {
		t.Fatalf("Phase() = %v, want KeyDistribution", k.Phase())
	}
	if got := k.TransmitDerivatives().NID; got != oldNID {
		t.Errorf("TransmitDerivatives().NID in KeyDistribution = %#x, want old %#x", got, oldNID)
	}
	if !k.MatchesNID(oldNID) || !k.MatchesNID(0x7f) {
		t.Error("both NIDs must be accepted during key refresh")
	}
	if err := k.StartKeyRefresh(hexKey(t, otherNetKey)); !errors.Is(err, ErrKeyRefreshInProgress) {
		t.Errorf("second StartKeyRefresh() error = %v, want ErrKeyRefreshInProgress", err)
	}

	if err := k.SetPhase(UsingNewKeys); err != nil {
		t.Fatalf("SetPhase(UsingNewKeys) error = %v", err)
	}
	if got := k.TransmitDerivatives().NID; got != 0x7f {
		t.Errorf("TransmitDerivatives().NID in UsingNewKeys = %#x, want 0x7f", got)
	}
	if err := k.SetPhase(NormalOperation); err != nil {
		t.Fatal(err)
	}
	if k.OldKey() != nil || len(k.ReceiveDerivatives()) != 1 {
		t.Error("old key must be revoked in NormalOperation")
	}
	if err := k.SetPhase(UsingNewKeys); !errors.Is(err, ErrInvalidPhase) {
		t.Errorf("Normal -> UsingNewKeys error = %v, want ErrInvalidPhase", err)
	}
}

func TestAccessKeySetSelectsOldKeyDuringDistribution(t *testing.T) {
	net, _ := NewNetworkKey(0, hexKey(t, sampleNetKey))
	app, _ := NewApplicationKey(0, hexKey(t, sampleAppKey), net)
	if app.AID() != 0x26 {
		t.Fatalf("AID() = %#x, want 0x26", app.AID())
	}

	ks, err := NewAccessKeySet(app)
	if err != nil {
		t.Fatalf("NewAccessKeySet() error = %v", err)
	}

	// Refresh both keys; the set must follow without being recreated.
	if err := net.StartKeyRefresh(hexKey(t, otherNetKey)); err != nil {
		t.Fatal(err)
	}
	if err := app.Update(hexKey(t, otherAppKey)); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(ks.AccessKey(), hexKey(t, sampleAppKey)) {
		t.Errorf("AccessKey() in KeyDistribution = %x, want old key", ks.AccessKey())
	}
	if aid, ok := ks.AID(); !ok || aid != 0x26 {
		t.Errorf("AID() in KeyDistribution = %#x,%v, want 0x26,true", aid, ok)
	}

	if err := net.SetPhase(UsingNewKeys); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ks.AccessKey(), hexKey(t, otherAppKey)) {
		t.Errorf("AccessKey() in UsingNewKeys = %x, want new key", ks.AccessKey())
	}
	if aid, _ := ks.AID(); aid != 0x38 {
		t.Errorf("AID() in UsingNewKeys = %#x, want 0x38", aid)
	}
	if len(ks.AccessKey()) != 16 {
		t.Errorf("len(AccessKey()) = %d, want 16", len(ks.AccessKey()))
	}
}

func TestAccessKeySetRequiresBinding(t *testing.T) {
	app, _ := NewApplicationKey(1, hexKey(t, sampleAppKey), nil)
	if _, err := NewAccessKeySet(app); !errors.Is(err, ErrUnboundApplicationKey) {
		t.Errorf("NewAccessKeySet(unbound) error = %v, want ErrUnboundApplicationKey", err)
	}
}

func TestDeviceKeySet(t *testing.T) {
	net, _ := NewNetworkKey(0, hexKey(t, sampleNetKey))

	if _, ok := NewDeviceKeySet(net, node{}); ok {
		t.Error("NewDeviceKeySet() without device key must fail")
	}

	dk := hexKey(t, otherAppKey)
	ks, ok := NewDeviceKeySet(net, node{key: dk})
	if !ok {
		t.Fatal("NewDeviceKeySet() failed")
	}
	if _, ok := ks.AID(); ok {
		t.Error("device key set must not have an AID")
	}
	if !bytes.Equal(ks.AccessKey(), dk) || ks.NetworkKey() != net {
		t.Error("device key set carries the wrong keys")
	}
}

func TestApplicationKeyReceiveKeys(t *testing.T) {
	app, _ := NewApplicationKey(0, hexKey(t, sampleAppKey), nil)
	if got := app.ReceiveKeys(0x26); len(got) != 1 {
		t.Fatalf("ReceiveKeys(0x26) = %d keys, want 1", len(got))
	}
	_ = app.Update(hexKey(t, otherAppKey))
	if got := app.ReceiveKeys(0x26); len(got) != 1 || !bytes.Equal(got[0].Key, hexKey(t, sampleAppKey)) {
		t.Errorf("ReceiveKeys(old AID) = %v, want the old key", got)
	}
	app.RevokeOld()
	if got := app.ReceiveKeys(0x26); len(got) != 0 {
		t.Errorf("ReceiveKeys after revoke = %d keys, want 0", len(got))
	}
}
