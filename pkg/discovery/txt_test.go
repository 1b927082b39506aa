package discovery

import (
	"bytes"
	"errors"
	"testing"
)

func TestMeshTXTRoundTrip(t *testing.T) {
	in := MeshTXT{NetworkID: testNetworkID, Unicast: 0x1234}
	out, err := ParseMeshTXT(in.Encode())
	if err != nil {
		t.Fatalf("ParseMeshTXT() error = %v", err)
	}
	if !bytes.Equal(out.NetworkID, in.NetworkID) || out.Unicast != in.Unicast {
		t.Errorf("ParseMeshTXT() = %+v, want %+v", out, in)
	}
}

func TestParseMeshTXTErrors(t *testing.T) {
	tests := []struct {
		name    string
		records []string
		want    error
	}{
		{"missing nid", []string{"uni=0001"}, ErrInvalidNetworkID},
		{"short nid", []string{"nid=3eca"}, ErrInvalidNetworkID},
		{"bad hex", []string{"nid=3ecaff672f67337g"}, ErrInvalidNetworkID},
		{"group unicast", []string{"nid=3ecaff672f673370", "uni=c000"}, ErrInvalidTXTRecord},
		{"bad unicast", []string{"nid=3ecaff672f673370", "uni=xyz"}, ErrInvalidTXTRecord},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseMeshTXT(tc.records); !errors.Is(err, tc.want) {
				t.Errorf("ParseMeshTXT() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestParseTXT(t *testing.T) {
	m := ParseTXT([]string{"a=1", "b=", "=x", "noequals", "c=d=e"})
	if m["a"] != "1" || m["b"] != "" || m["c"] != "d=e" {
		t.Errorf("ParseTXT() = %v", m)
	}
	if _, ok := m[""]; ok {
		t.Error("empty key parsed")
	}
	if len(m) != 3 {
		t.Errorf("ParseTXT() has %d keys, want 3", len(m))
	}
}
