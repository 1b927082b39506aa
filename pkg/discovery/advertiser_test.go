package discovery

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

type fakeRegistration struct {
	svc      Service
	shutdown bool
}

func (r *fakeRegistration) Shutdown() { r.shutdown = true }

type fakeRegistrar struct {
	mu   sync.Mutex
	regs []*fakeRegistration
	fail bool
}

func (f *fakeRegistrar) Register(svc Service) (Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("register failed")
	}
	r := &fakeRegistration{svc: svc}
	f.regs = append(f.regs, r)
	return r, nil
}

var testNetworkID = []byte{0x3e, 0xca, 0xff, 0x67, 0x2f, 0x67, 0x33, 0x70}

func TestNewAdvertiser(t *testing.T) {
	adv, err := NewAdvertiser(AdvertiserConfig{})
	if err != nil {
		t.Fatalf("NewAdvertiser() error = %v", err)
	}
	if adv.config.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", adv.config.Port, DefaultPort)
	}
	for _, port := range []int{-1, 70000} {
		if _, err := NewAdvertiser(AdvertiserConfig{Port: port}); !errors.Is(err, ErrInvalidPort) {
			t.Errorf("port %d: error = %v, want ErrInvalidPort", port, err)
		}
	}
}

func TestAdvertiserStart(t *testing.T) {
	reg := &fakeRegistrar{}
	adv, err := NewAdvertiser(AdvertiserConfig{Port: 4000, Registrar: reg})
	if err != nil {
		t.Fatal(err)
	}

	if err := adv.Start(MeshTXT{NetworkID: testNetworkID, Unicast: 0x0010}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	svc := reg.regs[0].svc
	if svc.Port != 4000 {
		t.Errorf("registered port %d", svc.Port)
	}
	if got, want := strings.Join(svc.Text, ","), "nid=3ecaff672f673370,uni=0010"; got != want {
		t.Errorf("TXT = %s, want %s", got, want)
	}
	name := adv.InstanceName(testNetworkID)
	if name != svc.Instance || !strings.HasPrefix(name, "0010-") || len(name) != 13 {
		t.Errorf("InstanceName() = %q, registered %q", name, svc.Instance)
	}
	if !adv.IsAdvertising(testNetworkID) {
		t.Error("IsAdvertising() = false")
	}

	if err := adv.Start(MeshTXT{NetworkID: testNetworkID}); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
	if err := adv.Start(MeshTXT{NetworkID: []byte{1}}); !errors.Is(err, ErrInvalidNetworkID) {
		t.Errorf("Start() with short network ID error = %v", err)
	}

	if err := adv.Stop(testNetworkID); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !reg.regs[0].shutdown {
		t.Error("registration not shut down")
	}
	if adv.IsAdvertising(testNetworkID) {
		t.Error("IsAdvertising() after Stop")
	}
	if err := adv.Stop(testNetworkID); !errors.Is(err, ErrNotStarted) {
		t.Errorf("second Stop() error = %v, want ErrNotStarted", err)
	}
}

func TestAdvertiserRegisterFailure(t *testing.T) {
	adv, _ := NewAdvertiser(AdvertiserConfig{Registrar: &fakeRegistrar{fail: true}})
	if err := adv.Start(MeshTXT{NetworkID: testNetworkID}); err == nil {
		t.Fatal("Start() succeeded")
	}
	if adv.IsAdvertising(testNetworkID) {
		t.Error("failed registration is advertised")
	}
}

func TestAdvertiserClose(t *testing.T) {
	reg := &fakeRegistrar{}
	adv, _ := NewAdvertiser(AdvertiserConfig{Registrar: reg})
	for _, nid := range [][]byte{testNetworkID, {1, 2, 3, 4, 5, 6, 7, 8}} {
		if err := adv.Start(MeshTXT{NetworkID: nid}); err != nil {
			t.Fatal(err)
		}
	}

	if err := adv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for i, r := range reg.regs {
		if !r.shutdown {
			t.Errorf("registration %d not shut down", i)
		}
	}
	if err := adv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := adv.Start(MeshTXT{NetworkID: testNetworkID}); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Close error = %v", err)
	}
	if err := adv.Stop(testNetworkID); !errors.Is(err, ErrClosed) {
		t.Errorf("Stop() after Close error = %v", err)
	}
}
