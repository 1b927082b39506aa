package trace

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type collect struct {
	mu     sync.Mutex
	events []Event
}

func (c *collect) Log(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func TestEncodeDecodeEvent(t *testing.T) {
	in := Event{
		Timestamp:   time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC),
		SessionID:   NewSessionID(),
		Direction:   DirectionOut,
		Layer:       LayerAccess,
		Source:      0x0001,
		Destination: 0xC000,
		Opcode:      0x8202,
		Data:        []byte{0x01, 0x07},
	}
	data, err := EncodeEvent(in)
	if err != nil {
		t.Fatalf("EncodeEvent() error = %v", err)
	}
	out, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	if !out.Timestamp.Equal(in.Timestamp) || out.Opcode != in.Opcode || !bytes.Equal(out.Data, in.Data) {
		t.Errorf("DecodeEvent() = %+v, want %+v", out, in)
	}
	if _, err := uuid.Parse(out.SessionID); err != nil {
		t.Errorf("session id %q is not a UUID: %v", out.SessionID, err)
	}
}

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.cbor")
	l, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(seq uint32) {
			defer wg.Done()
			l.Log(Event{Layer: LayerNetwork, Sequence: seq})
		}(uint32(i + 1))
	}
	wg.Wait()

	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	l.Log(Event{Sequence: 99})

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	events, err := ReadEvents(f)
	if err != nil {
		t.Fatalf("ReadEvents() error = %v", err)
	}
	if len(events) != 10 {
		t.Fatalf("read %d events, want 10", len(events))
	}
	for _, e := range events {
		if e.Sequence == 99 {
			t.Error("event logged after Close was written")
		}
	}
}

func TestMultiLogger(t *testing.T) {
	a, b := &collect{}, &collect{}
	MultiLogger{a, NoopLogger{}, b}.Log(Event{Error: "x"})
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("fan out = %d/%d, want 1/1", len(a.events), len(b.events))
	}
}
