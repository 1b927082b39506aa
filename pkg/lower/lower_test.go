package lower

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func TestSegmentedAccessHeader(t *testing.T) {
	// Mesh Profile sample message #16: device key, SeqZero 0x09ab, 2 segments.
	tests := []struct {
		segO uint8
		want string
	}{
		{0, "8026ac01"},
		{1, "8026ac21"},
	}
	for _, tc := range tests {
		m := &SegmentedAccessMessage{SeqZero: 0x09AB, SegO: tc.segO, SegN: 1, Segment: []byte{0xEE}}
		got := m.Encode()
		if want := mustHex(t, tc.want+"ee"); !bytes.Equal(got, want) {
			t.Errorf("segO=%d Encode() = %x, want %x", tc.segO, got, want)
		}
	}
}

func TestSegmentedAccessRoundTrip(t *testing.T) {
	in := &SegmentedAccessMessage{
		AKF: true, AID: 0x26, SZMIC: true,
		SeqZero: 0x1ABC, SegO: 13, SegN: 31,
		Segment: bytes.Repeat([]byte{0x42}, AccessSegmentSize),
	}
	pdu, err := Decode(in.Encode(), false, Meta{Source: 1, Destination: 2})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	out, ok := pdu.(*SegmentedAccessMessage)
	if !ok {
		t.Fatalf("Decode() type = %T", pdu)
	}
	if !out.AKF || out.AID != 0x26 || !out.SZMIC || out.SeqZero != 0x1ABC || out.SegO != 13 || out.SegN != 31 {
		t.Errorf("Decode() = %+v", out)
	}
	if out.Source != 1 || out.Destination != 2 {
		t.Errorf("meta not carried: %+v", out.Meta)
	}
}

func TestUnsegmentedMessages(t *testing.T) {
	access := &AccessMessage{AKF: true, AID: 0x15, UpperTransportPDU: []byte{1, 2, 3, 4, 5}}
	if got := access.Encode(); got[0] != 0x55 {
		t.Errorf("access header = %#x, want 0x55", got[0])
	}
	pdu, err := Decode(access.Encode(), false, Meta{})
	if err != nil {
		t.Fatal(err)
	}
	if m := pdu.(*AccessMessage); !m.AKF || m.AID != 0x15 || !bytes.Equal(m.UpperTransportPDU, access.UpperTransportPDU) {
		t.Errorf("Decode() = %+v", m)
	}

	ctl := &ControlMessage{Opcode: 0x0A, Parameters: []byte{0x01}}
	pdu, err = Decode(ctl.Encode(), true, Meta{})
	if err != nil {
		t.Fatal(err)
	}
	if m := pdu.(*ControlMessage); m.Opcode != 0x0A || !bytes.Equal(m.Parameters, []byte{0x01}) {
		t.Errorf("Decode() = %+v", m)
	}
}

func TestSegmentAcknowledgement(t *testing.T) {
	ack := &SegmentAcknowledgementMessage{OBO: true, SeqZero: 0x09AB, BlockAck: 0x00000003}
	want := mustHex(t, "00a6ac00000003")
	if got := ack.Encode(); !bytes.Equal(got, want) {
		t.Fatalf("Encode() = %x, want %x", got, want)
	}
	pdu, err := Decode(want, true, Meta{})
	if err != nil {
		t.Fatal(err)
	}
	out := pdu.(*SegmentAcknowledgementMessage)
	if !out.OBO || out.SeqZero != 0x09AB || out.BlockAck != 3 || out.IsBusy() {
		t.Errorf("Decode() = %+v", out)
	}
	if !(&SegmentAcknowledgementMessage{}).IsBusy() {
		t.Error("zero block ack must mean busy")
	}
}

func TestSegmentedControlRoundTrip(t *testing.T) {
	in := &SegmentedControlMessage{Opcode: 0x0B, SeqZero: 0x0123, SegO: 1, SegN: 2, Segment: []byte{9, 8, 7}}
	got := in.Encode()
	if got[0] != 0x8B || got[1]&0x80 != 0 {
		t.Errorf("header = %x", got[:4])
	}
	pdu, err := Decode(got, true, Meta{})
	if err != nil {
		t.Fatal(err)
	}
	out := pdu.(*SegmentedControlMessage)
	if out.Opcode != 0x0B || out.SeqZero != 0x0123 || out.SegO != 1 || out.SegN != 2 {
		t.Errorf("Decode() = %+v", out)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		ctl  bool
		want error
	}{
		{"empty", "", false, ErrTruncated},
		{"access without payload", "00", false, ErrTruncated},
		{"short segment header", "80000001", false, ErrTruncated},
		{"offset beyond last", "8000004155", false, ErrInvalidSegment},
		{"control offset beyond last", "8300004155", true, ErrInvalidSegment},
		{"short ack", "00000000", true, ErrTruncated},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(mustHex(t, tc.data), tc.ctl, Meta{})
			if !errors.Is(err, tc.want) {
				t.Errorf("Decode() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSplitJoin(t *testing.T) {
	for n := 1; n <= 500; n++ {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i * 7)
		}
		chunks := Split(data, AccessSegmentSize)
		if want := (n + AccessSegmentSize - 1) / AccessSegmentSize; len(chunks) != want {
			t.Fatalf("len=%d: %d chunks, want %d", n, len(chunks), want)
		}
		for i, c := range chunks[:len(chunks)-1] {
			if len(c) != AccessSegmentSize {
				t.Fatalf("len=%d: chunk %d has %d bytes", n, i, len(c))
			}
		}
		if got := Join(chunks); !bytes.Equal(got, data) {
			t.Fatalf("len=%d: Join(Split()) mismatch", n)
		}

		segs, err := SegmentAccess(Meta{}, false, 0, false, 0, data)
		if n > MaxSegments*AccessSegmentSize {
			if !errors.Is(err, ErrMessageTooLong) {
				t.Fatalf("len=%d: error = %v, want ErrMessageTooLong", n, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("len=%d: SegmentAccess() error = %v", n, err)
		}
		for i, s := range segs {
			if int(s.SegN) != len(chunks)-1 || int(s.SegO) != i {
				t.Fatalf("len=%d: segment %d has SegO=%d SegN=%d", n, i, s.SegO, s.SegN)
			}
		}
	}
}

func TestSegmentThirtyBytes(t *testing.T) {
	segs, err := SegmentAccess(Meta{}, true, 1, false, 5, make([]byte, 30))
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 3 || segs[0].SegN != 2 {
		t.Errorf("got %d segments, SegN=%d; want 3, 2", len(segs), segs[0].SegN)
	}
}

func TestSegmentControlErrors(t *testing.T) {
	if _, err := SegmentControl(Meta{}, 0x80, 0, []byte{1}); !errors.Is(err, ErrInvalidOpcode) {
		t.Errorf("opcode 0x80 error = %v", err)
	}
	if _, err := SegmentControl(Meta{}, 0x01, 0, nil); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("empty error = %v", err)
	}
	segs, err := SegmentControl(Meta{}, 0x01, 0, make([]byte, 17))
	if err != nil || len(segs) != 3 {
		t.Errorf("17 bytes: %d segments, err = %v", len(segs), err)
	}
}

func TestBlockAckCompleteness(t *testing.T) {
	for segN := uint8(0); segN < MaxSegments; segN++ {
		var b BlockAck
		for i := uint8(0); i <= segN; i++ {
			if b.Complete(segN) {
				t.Fatalf("segN=%d complete after %d segments", segN, i)
			}
			b = b.Set(i)
		}
		if !b.Complete(segN) {
			t.Fatalf("segN=%d: %#x not complete", segN, uint32(b))
		}
		if uint64(b) != 1<<(uint64(segN)+1)-1 {
			t.Fatalf("segN=%d: block ack %#x", segN, uint32(b))
		}
		if b.Count() != int(segN)+1 {
			t.Fatalf("segN=%d: Count() = %d", segN, b.Count())
		}
	}
	if BlockAck(0xFFFFFFFF).Complete(30) {
		t.Error("extra bits must not count as complete")
	}
}

func TestSeqAuth(t *testing.T) {
	tests := []struct {
		seq     uint32
		seqZero uint16
		want    uint32
	}{
		{0x3129AB, 0x09AB, 0x3129AB},
		{0x3129AD, 0x09AB, 0x3129AB},
		{0x002001, 0x1FFF, 0x001FFF},
		{0x000005, 0x0003, 0x000003},
	}
	for _, tc := range tests {
		if got := SeqAuth(tc.seq, tc.seqZero); got != tc.want {
			t.Errorf("SeqAuth(%#x, %#x) = %#x, want %#x", tc.seq, tc.seqZero, got, tc.want)
		}
	}
}

func TestErrorTaxonomy(t *testing.T) {
	for _, e := range []Error{ErrTimeout, ErrCancelled, ErrBusy} {
		var err error = e
		if !errors.Is(err, e) {
			t.Errorf("errors.Is(%v) failed", e)
		}
		if e.AccessError().String() != e.String() {
			t.Errorf("%v maps to %v", e, e.AccessError())
		}
	}
}
