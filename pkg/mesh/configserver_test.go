package mesh

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/directory"
	"github.com/backkem/btmesh/pkg/models"
)

func configure(t *testing.T, l *link, prov *testNode, msg access.Message) access.Message {
	t.Helper()
	h, err := prov.m.SendConfig(msg, lightAddr, DefaultTTL)
	if err != nil {
		t.Fatalf("SendConfig(%T) error = %v", msg, err)
	}
	// Config AppKey Add takes two segments.
	l.settle(2)
	return mustResult(t, h)
}

func appKeyStatus(t *testing.T, resp access.Message) models.ConfigStatus {
	t.Helper()
	s, ok := resp.(*models.ConfigAppKeyStatus)
	if !ok {
		t.Fatalf("response = %T, want *ConfigAppKeyStatus", resp)
	}
	return s.Status
}

func TestConfigServerAppKeys(t *testing.T) {
	l, _, prov, light := newPair(t)
	newKey, _ := hex.DecodeString("3216d1509884b533248541792b877f98")
	changes := func() int { return len(eventsOf[NetworkDidChange](light.events)) }

	tests := []struct {
		name    string
		msg     access.Message
		want    models.ConfigStatus
		changes int
	}{
		{"add", &models.ConfigAppKeyAdd{NetKeyIndex: 0, AppKeyIndex: 2, AppKey: newKey}, models.StatusSuccess, 1},
		{"add again", &models.ConfigAppKeyAdd{NetKeyIndex: 0, AppKeyIndex: 2, AppKey: newKey}, models.StatusSuccess, 1},
		{"index taken", &models.ConfigAppKeyAdd{NetKeyIndex: 0, AppKeyIndex: 0, AppKey: newKey}, models.StatusKeyIndexAlreadyStored, 1},
		{"unknown network key", &models.ConfigAppKeyAdd{NetKeyIndex: 7, AppKeyIndex: 3, AppKey: newKey}, models.StatusInvalidNetKeyIndex, 1},
		{"delete bound", &models.ConfigAppKeyDelete{NetKeyIndex: 0, AppKeyIndex: 0}, models.StatusCannotRemove, 1},
		{"delete", &models.ConfigAppKeyDelete{NetKeyIndex: 0, AppKeyIndex: 2}, models.StatusSuccess, 2},
		{"delete unknown", &models.ConfigAppKeyDelete{NetKeyIndex: 0, AppKeyIndex: 2}, models.StatusSuccess, 2},
		{"delete unknown network key", &models.ConfigAppKeyDelete{NetKeyIndex: 7, AppKeyIndex: 2}, models.StatusInvalidNetKeyIndex, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := appKeyStatus(t, configure(t, l, prov, tc.msg)); got != tc.want {
				t.Errorf("status = %v, want %v", got, tc.want)
			}
			if got := changes(); got != tc.changes {
				t.Errorf("NetworkDidChange events = %d, want %d", got, tc.changes)
			}
		})
	}

	if _, ok := light.dir.ApplicationKey(2); ok {
		t.Error("application key 2 still stored")
	}
	for _, e := range eventsOf[NetworkDidChange](light.events) {
		if e.Reason != ChangeApplicationKeys {
			t.Errorf("reason = %q", e.Reason)
		}
	}
}

func TestConfigServerAddedKeyIsUsable(t *testing.T) {
	l, _, prov, light := newPair(t)
	newKey, _ := hex.DecodeString("3216d1509884b533248541792b877f98")
	configure(t, l, prov, &models.ConfigAppKeyAdd{NetKeyIndex: 0, AppKeyIndex: 2, AppKey: newKey})

	ak, ok := light.dir.ApplicationKey(2)
	if !ok || !bytes.Equal(ak.Key(), newKey) {
		t.Fatalf("ApplicationKey(2) = %v, %t", ak, ok)
	}
	if !light.dir.LocalNode().HasApplicationKey(2) {
		t.Error("local node does not list the new key")
	}
}

func TestConfigServerNodeReset(t *testing.T) {
	l, _, prov, light := newPair(t)
	if _, ok := configure(t, l, prov, &models.ConfigNodeReset{}).(*models.ConfigNodeResetStatus); !ok {
		t.Fatal("no ConfigNodeResetStatus")
	}
	if n := len(eventsOf[NetworkDidReset](light.events)); n != 1 {
		t.Errorf("NetworkDidReset events = %d, want 1", n)
	}
	if n := len(eventsOf[NetworkDidReset](prov.events)); n != 0 {
		t.Errorf("provisioner reset itself")
	}
}

func TestConfigServerDisabled(t *testing.T) {
	l := &link{}
	s := newPairScheduler()
	prov := newTestNode(t, l, s, newDirectory(t, provisionerAddr))
	light := newTestNode(t, l, s, newDirectory(t, lightAddr), func(c *Config) {
		c.DisableConfigServer = true
	})
	var got []access.Message
	light.m.RegisterHandler(lightAddr, HandlerFunc(func(req *Request) access.Message {
		got = append(got, req.Message)
		if req.ApplicationKey != nil {
			t.Error("configuration message secured with an application key")
		}
		return &models.ConfigNodeResetStatus{}
	}))

	if _, ok := configure(t, l, prov, &models.ConfigNodeReset{}).(*models.ConfigNodeResetStatus); !ok {
		t.Fatal("handler reply not received")
	}
	if len(got) != 1 {
		t.Fatalf("handler saw %d messages", len(got))
	}
	if n := len(eventsOf[NetworkDidReset](light.events)); n != 0 {
		t.Errorf("NetworkDidReset events = %d, want 0", n)
	}
}

// readOnly hides the KeyStore of the wrapped directory.
type readOnly struct {
	directory.Directory
}

func TestConfigServerStorageFailure(t *testing.T) {
	l := &link{}
	s := newPairScheduler()
	prov := newTestNode(t, l, s, newDirectory(t, provisionerAddr))
	light := newTestNode(t, l, s, readOnly{newDirectory(t, lightAddr)})
	newKey, _ := hex.DecodeString("3216d1509884b533248541792b877f98")

	msg := &models.ConfigAppKeyAdd{NetKeyIndex: 0, AppKeyIndex: 2, AppKey: newKey}
	if got := appKeyStatus(t, configure(t, l, prov, msg)); got != models.StatusStorageFailure {
		t.Errorf("add status = %v, want StorageFailure", got)
	}
	del := &models.ConfigAppKeyDelete{NetKeyIndex: 0, AppKeyIndex: 0}
	if got := appKeyStatus(t, configure(t, l, prov, del)); got != models.StatusStorageFailure {
		t.Errorf("delete status = %v, want StorageFailure", got)
	}
	if n := len(eventsOf[NetworkDidChange](light.events)); n != 0 {
		t.Errorf("NetworkDidChange events = %d", n)
	}
}
