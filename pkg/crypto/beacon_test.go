package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestSecureBeaconAuthentication(t *testing.T) {
	netKey := mustHex(t, "7dd7364cd842ad18c17c2b820c84c3d6")
	beaconKey, err := BeaconKey(netKey)
	if err != nil {
		t.Fatal(err)
	}
	networkID := mustHex(t, "3ecaff672f673370")

	auth, err := AuthenticateSecureBeacon(beaconKey, 0x00, networkID, 0x12345678)
	if err != nil {
		t.Fatalf("AuthenticateSecureBeacon() error = %v", err)
	}
	if want := mustHex(t, "8ea261582f364f6f"); !bytes.Equal(auth, want) {
		t.Errorf("auth = %x, want %x", auth, want)
	}

	if err := VerifySecureBeacon(beaconKey, 0x00, networkID, 0x12345678, auth); err != nil {
		t.Errorf("VerifySecureBeacon() error = %v", err)
	}
	if err := VerifySecureBeacon(beaconKey, 0x02, networkID, 0x12345678, auth); !errors.Is(err, ErrBeaconAuthFailed) {
		t.Errorf("VerifySecureBeacon(changed flags) error = %v, want ErrBeaconAuthFailed", err)
	}
}

func TestPrivateBeaconRoundTrip(t *testing.T) {
	key, err := PrivateBeaconKey(mustHex(t, "f7a2a44f8e8a8029064f173ddc1e2b00"))
	if err != nil {
		t.Fatal(err)
	}
	random := mustHex(t, "435f18f85cf78a3121f58478a5")

	payload, err := EncryptPrivateBeacon(key, random, 0x02, 0x1010abcd)
	if err != nil {
		t.Fatalf("EncryptPrivateBeacon() error = %v", err)
	}
	if len(payload) != 13 {
		t.Fatalf("len(payload) = %d, want 13", len(payload))
	}

	flags, iv, err := DecryptPrivateBeacon(key, random, payload)
	if err != nil {
		t.Fatalf("DecryptPrivateBeacon() error = %v", err)
	}
	if flags != 0x02 || iv != 0x1010abcd {
		t.Errorf("got flags=%#x iv=%#x, want 0x02 0x1010abcd", flags, iv)
	}

	payload[12] ^= 0xFF
	if _, _, err := DecryptPrivateBeacon(key, random, payload); !errors.Is(err, ErrBeaconAuthFailed) {
		t.Errorf("tampered beacon error = %v, want ErrBeaconAuthFailed", err)
	}
}

func TestObfuscateIsSelfInverse(t *testing.T) {
	privacyKey := mustHex(t, "8b84eedec100067d670971dd2aa700cf")
	header := mustHex(t, "800000011201")
	random := mustHex(t, "b5e5bfdacbaf6cb7")

	obf, err := Obfuscate(header, random, 0x12345678, privacyKey)
	if err != nil {
		t.Fatalf("Obfuscate() error = %v", err)
	}
	if bytes.Equal(obf, header) {
		t.Fatal("Obfuscate() returned the input unchanged")
	}
	back, err := Obfuscate(obf, random, 0x12345678, privacyKey)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, header) {
		t.Errorf("deobfuscate = %x, want %x", back, header)
	}

	if _, err := Obfuscate(header, random[:6], 0, privacyKey); !errors.Is(err, ErrPrivacyRandomTooShort) {
		t.Errorf("short random error = %v, want ErrPrivacyRandomTooShort", err)
	}
}

func TestNonceLayouts(t *testing.T) {
	got := NetworkNonce(true, 0, 0x000001, 0x1201, 0x12345678)
	if want := mustHex(t, "00800000011201000012345678"); !bytes.Equal(got, want) {
		t.Errorf("NetworkNonce() = %x, want %x", got, want)
	}
	got = ApplicationNonce(false, 0x000007, 0x1201, 0xffff, 0x12345678)
	if want := mustHex(t, "01000000071201ffff12345678"); !bytes.Equal(got, want) {
		t.Errorf("ApplicationNonce() = %x, want %x", got, want)
	}
	got = DeviceNonce(true, 0x3129ab, 0x0003, 0x1201, 0x12345678)
	if want := mustHex(t, "02803129ab0003120112345678"); !bytes.Equal(got, want) {
		t.Errorf("DeviceNonce() = %x, want %x", got, want)
	}
	got = ProxyNonce(0x000001, 0x0001, 0x12345678)
	if want := mustHex(t, "03000000010001000012345678"); !bytes.Equal(got, want) {
		t.Errorf("ProxyNonce() = %x, want %x", got, want)
	}
}
