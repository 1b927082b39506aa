package address

import (
	"testing"

	"github.com/google/uuid"
)

func TestAddressClassification(t *testing.T) {
	tests := []struct {
		addr                        Address
		unicast, virtual, group, fx bool
	}{
		{0x0000, false, false, false, false},
		{0x0001, true, false, false, false},
		{0x7FFF, true, false, false, false},
		{0x8000, false, true, false, false},
		{0xBFFF, false, true, false, false},
		{0xC000, false, false, true, false},
		{0xFEFF, false, false, true, false},
		{AllProxies, false, false, true, true},
		{AllNodes, false, false, true, true},
	}
	for _, tc := range tests {
		if got := tc.addr.IsUnicast(); got != tc.unicast {
			t.Errorf("%s.IsUnicast() = %v, want %v", tc.addr, got, tc.unicast)
		}
		if got := tc.addr.IsVirtual(); got != tc.virtual {
			t.Errorf("%s.IsVirtual() = %v, want %v", tc.addr, got, tc.virtual)
		}
		if got := tc.addr.IsGroup(); got != tc.group {
			t.Errorf("%s.IsGroup() = %v, want %v", tc.addr, got, tc.group)
		}
		if got := tc.addr.IsFixedGroup(); got != tc.fx {
			t.Errorf("%s.IsFixedGroup() = %v, want %v", tc.addr, got, tc.fx)
		}
	}
}

func TestNewVirtual(t *testing.T) {
	label := uuid.MustParse("0073e7e4-d8b9-440f-af84-15df4c56c0e1")
	m, err := NewVirtual(label)
	if err != nil {
		t.Fatalf("NewVirtual() error = %v", err)
	}
	if m.Address != 0xB529 {
		t.Errorf("Address = %s, want 0xB529", m.Address)
	}
	if !m.Address.IsVirtual() {
		t.Error("virtual address not classified as virtual")
	}
	if len(m.LabelBytes()) != 16 {
		t.Errorf("len(LabelBytes()) = %d, want 16", len(m.LabelBytes()))
	}
	if New(0x0001).LabelBytes() != nil {
		t.Error("unicast MeshAddress has a label")
	}
}
