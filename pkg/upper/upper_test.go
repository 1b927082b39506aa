package upper

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/backkem/btmesh/pkg/address"
	"github.com/backkem/btmesh/pkg/keys"
)

type node struct{ key []byte }

func (n node) DeviceKey() []byte { return n.key }

func fixture(t *testing.T) (*keys.NetworkKey, *keys.ApplicationKey) {
	t.Helper()
	nk, err := keys.NewNetworkKey(0, bytes.Repeat([]byte{0x7d}, 16))
	if err != nil {
		t.Fatal(err)
	}
	ak, err := keys.NewApplicationKey(1, bytes.Repeat([]byte{0x63}, 16), nk)
	if err != nil {
		t.Fatal(err)
	}
	return nk, ak
}

func TestApplicationKeyRoundTrip(t *testing.T) {
	_, ak := fixture(t)
	ks, err := keys.NewAccessKeySet(ak)
	if err != nil {
		t.Fatal(err)
	}

	for _, szmic := range []bool{false, true} {
		pdu := &AccessPDU{
			Source:      0x0003,
			Destination: address.New(0x1201),
			Sequence:    0x07080B,
			IVIndex:     0x12345677,
			SZMIC:       szmic,
			Payload:     []byte{0x82, 0x02, 0x01, 0x07},
		}
		enc, err := Encrypt(pdu, ks)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if !enc.AKF || enc.AID != ak.AID() {
			t.Errorf("AKF=%v AID=%#x, want true %#x", enc.AKF, enc.AID, ak.AID())
		}
		if len(enc.Data) != len(pdu.Payload)+MICSize(szmic) {
			t.Errorf("szmic=%v: %d bytes, want %d", szmic, len(enc.Data), len(pdu.Payload)+MICSize(szmic))
		}

		wrong := Candidate{Key: bytes.Repeat([]byte{0x01}, 16), ApplicationKey: ak}
		right := Candidate{Key: ak.Key(), ApplicationKey: ak}
		dec, err := Decrypt(enc, pdu.Source, 0x1201, pdu.Sequence, pdu.IVIndex, []Candidate{wrong, right}, nil)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if !bytes.Equal(dec.Payload, pdu.Payload) || dec.Key.IsDeviceKey() {
			t.Errorf("Decrypt() = %+v", dec)
		}
	}
}

func TestDeviceKeyRoundTrip(t *testing.T) {
	nk, _ := fixture(t)
	dev := bytes.Repeat([]byte{0x9d}, 16)
	ks, ok := keys.NewDeviceKeySet(nk, node{key: dev})
	if !ok {
		t.Fatal("NewDeviceKeySet() failed")
	}

	pdu := &AccessPDU{Source: 0x0001, Destination: address.New(0x0002), Sequence: 1, Payload: []byte{0x80, 0x49}}
	enc, err := Encrypt(pdu, ks)
	if err != nil {
		t.Fatal(err)
	}
	if enc.AKF || enc.AID != 0 {
		t.Errorf("device key message has AKF=%v AID=%#x", enc.AKF, enc.AID)
	}

	// Application key candidates are skipped for AKF=0.
	_, ak := fixture(t)
	candidates := []Candidate{{Key: dev, ApplicationKey: ak}, {Key: dev}}
	dec, err := Decrypt(enc, 0x0001, 0x0002, 1, 0, candidates, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !dec.Key.IsDeviceKey() || !bytes.Equal(dec.Payload, pdu.Payload) {
		t.Errorf("Decrypt() = %+v", dec)
	}
}

func TestVirtualDestination(t *testing.T) {
	_, ak := fixture(t)
	ks, _ := keys.NewAccessKeySet(ak)

	label := uuid.MustParse("0073e7e4-d8b9-440f-af84-15df4c56c0e1")
	va, err := address.NewVirtual(label)
	if err != nil {
		t.Fatal(err)
	}
	pdu := &AccessPDU{Source: 0x1234, Destination: va, Sequence: 0x07080C, IVIndex: 0x12345677, Payload: []byte("hello")}
	enc, err := Encrypt(pdu, ks)
	if err != nil {
		t.Fatal(err)
	}

	c := []Candidate{{Key: ak.Key(), ApplicationKey: ak}}
	other := uuid.MustParse("f4a002c7-fb1e-4ca0-a469-a021de0db875")
	if _, err := Decrypt(enc, 0x1234, va.Address, pdu.Sequence, pdu.IVIndex, c, []uuid.UUID{other}); !errors.Is(err, ErrNoMatchingKey) {
		t.Errorf("wrong label error = %v, want ErrNoMatchingKey", err)
	}
	dec, err := Decrypt(enc, 0x1234, va.Address, pdu.Sequence, pdu.IVIndex, c, []uuid.UUID{other, label})
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if dec.Destination.Label == nil || *dec.Destination.Label != label {
		t.Errorf("label not resolved: %v", dec.Destination)
	}
}

func TestDecryptFailures(t *testing.T) {
	_, ak := fixture(t)
	ks, _ := keys.NewAccessKeySet(ak)
	pdu := &AccessPDU{Source: 1, Destination: address.New(2), Sequence: 5, Payload: []byte{1, 2, 3}}
	enc, _ := Encrypt(pdu, ks)
	c := []Candidate{{Key: ak.Key(), ApplicationKey: ak}}

	tampered := *enc
	tampered.Data = bytes.Clone(enc.Data)
	tampered.Data[0] ^= 0x01
	if _, err := Decrypt(&tampered, 1, 2, 5, 0, c, nil); !errors.Is(err, ErrNoMatchingKey) {
		t.Errorf("tampered error = %v", err)
	}
	if _, err := Decrypt(enc, 1, 2, 6, 0, c, nil); !errors.Is(err, ErrNoMatchingKey) {
		t.Errorf("wrong SeqAuth error = %v", err)
	}
	if _, err := Decrypt(&EncryptedPDU{AKF: true, Data: []byte{1, 2, 3, 4}}, 1, 2, 5, 0, c, nil); !errors.Is(err, ErrTruncated) {
		t.Errorf("short error = %v", err)
	}
	if _, err := Encrypt(&AccessPDU{Destination: address.New(2), Payload: make([]byte, 381)}, ks); !errors.Is(err, ErrPayloadTooLong) {
		t.Errorf("long payload error = %v", err)
	}
}
