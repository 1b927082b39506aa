package mesh

import (
	"github.com/backkem/btmesh/pkg/bearer"
	"github.com/backkem/btmesh/pkg/keys"
	"github.com/backkem/btmesh/pkg/network"
	"github.com/backkem/btmesh/pkg/trace"
)

// handleBeacon applies the IV Index and Key Refresh state carried by an
// authenticated network beacon.
func (m *NetworkManager) handleBeacon(data []byte) {
	b, err := network.DecodeBeacon(data, m.dir.NetworkKeys())
	if err != nil {
		if m.log != nil {
			m.log.Debugf("dropping beacon: %v", err)
		}
		m.config.Metrics.ObservePDUDropped("beacon")
		return
	}
	m.config.Metrics.ObserveBeacon(b.Type.String())
	m.traceEvent(trace.Event{
		Direction: trace.DirectionIn,
		Layer:     trace.LayerBeacon,
		Sequence:  b.IVIndex,
		Data:      data,
	})

	var changes []string

	m.mu.Lock()
	next, changed := m.iv.Next(b.IVIndex, b.IVUpdate)
	// Sequence numbers restart once PDUs go out with a higher IV Index.
	advanced := changed && next.TransmitIndex() != m.iv.TransmitIndex()
	if changed {
		m.iv = next
		if advanced {
			for _, c := range m.sequences {
				c.Reset()
			}
			m.config.Sequence = 0
		}
	}
	m.mu.Unlock()
	if changed {
		if m.log != nil {
			m.log.Infof("IV index %d update=%t", next.Index, next.UpdateActive)
		}
		changes = append(changes, ChangeIVIndex)
	}

	if m.applyKeyRefresh(b) {
		changes = append(changes, ChangeKeyRefresh)
	}
	for _, c := range changes {
		m.emit(NetworkDidChange{Reason: c})
	}
}

// applyKeyRefresh moves the key refresh phase of the beacon's network key.
// Only beacons secured with the new key count. It reports a change.
func (m *NetworkManager) applyKeyRefresh(b *network.Beacon) bool {
	nk := b.NetworkKey
	phase := nk.Phase()
	if !b.NewKey || phase == keys.NormalOperation {
		return false
	}

	target := keys.NormalOperation
	if b.KeyRefresh {
		if phase != keys.KeyDistribution {
			return false
		}
		target = keys.UsingNewKeys
	}
	if err := nk.SetPhase(target); err != nil {
		if m.log != nil {
			m.log.Warnf("network key %d: %v", nk.Index(), err)
		}
		return false
	}
	if target == keys.NormalOperation {
		for _, ak := range m.dir.ApplicationKeys() {
			if ak.BoundNetworkKey() == nk {
				ak.RevokeOld()
			}
		}
	}
	if m.log != nil {
		m.log.Infof("network key %d key refresh phase %s", nk.Index(), target)
	}
	return true
}

// SendBeacons broadcasts a network beacon for every network key: Secure
// Network beacons, or Private beacons when private is set.
func (m *NetworkManager) SendBeacons(private bool) error {
	if m.isClosed() {
		return ErrClosed
	}
	iv := m.IVIndex()
	for _, nk := range m.dir.NetworkKeys() {
		var (
			data []byte
			err  error
		)
		if private {
			data, err = network.EncodePrivateBeacon(nk, iv, nil)
		} else {
			data, err = network.EncodeSecureBeacon(nk, iv)
		}
		if err != nil {
			return err
		}
		m.traceEvent(trace.Event{
			Direction: trace.DirectionOut,
			Layer:     trace.LayerBeacon,
			Sequence:  iv.Index,
			Data:      data,
		})
		if err := m.tx.Send(data, bearer.MeshBeacon); err != nil {
			return err
		}
	}
	return nil
}
