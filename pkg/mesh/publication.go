package mesh

import (
	"time"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/address"
	"github.com/backkem/btmesh/pkg/directory"
	"github.com/backkem/btmesh/pkg/keys"
	"github.com/backkem/btmesh/pkg/reliability"
)

type publisherKey struct {
	element address.Address
	model   uint32
}

type publisher struct {
	next  func() access.Message
	timer reliability.Timer
	gen   uint64
}

func (p *publisher) stopLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.gen++
}

// Publish sends msg with the publish settings of a local model: its
// address, application key and TTL. The message is then retransmitted
// RetransmitCount times, RetransmitInterval apart, with the same
// transaction identifier.
func (m *NetworkManager) Publish(msg access.Message, element address.Address, modelID uint32) (*MessageHandle, error) {
	src, err := m.sourceElement(element)
	if err != nil {
		return nil, err
	}
	pub, appKey, err := m.publication(src, modelID)
	if err != nil {
		return nil, err
	}
	keySet, err := keys.NewAccessKeySet(appKey)
	if err != nil {
		return nil, access.ErrNoNetworkKey
	}
	// A publish TTL of 0xFF is DefaultTTL.
	o := outbound{msg: msg, src: src, dst: pub.Address, ttl: pub.TTL, keySet: keySet, exclusive: true}
	h, err := m.send(o)
	if err != nil {
		return nil, err
	}

	o.exclusive, o.retransmit, o.silent = false, true, true
	for i := 1; i <= int(pub.RetransmitCount); i++ {
		m.config.Scheduler.AfterFunc(time.Duration(i)*pub.RetransmitInterval, func() {
			if m.isClosed() {
				return
			}
			if _, err := m.send(o); err != nil && m.log != nil {
				m.log.Warnf("publication retransmission to %s failed: %v", o.dst, err)
			}
		})
	}
	return h, nil
}

// publication resolves the publish settings and application key of a
// local model.
func (m *NetworkManager) publication(element address.Address, modelID uint32) (*directory.Publication, *keys.ApplicationKey, error) {
	local := m.dir.LocalNode()
	if local == nil {
		return nil, nil, access.ErrInvalidSource
	}
	e, ok := local.Element(element)
	if !ok {
		return nil, nil, access.ErrInvalidElement
	}
	model, ok := e.Model(modelID)
	if !ok {
		return nil, nil, ErrUnknownModel
	}
	pub := model.Publication
	if pub == nil || pub.Address.Address.IsUnassigned() {
		return nil, nil, ErrNoPublication
	}
	if len(model.Bindings) == 0 {
		return nil, nil, access.ErrNoAppKeysBoundToModel
	}
	if !model.IsBound(pub.AppKeyIndex) {
		return nil, nil, access.ErrModelNotBoundToAppKey
	}
	appKey, ok := m.dir.ApplicationKey(pub.AppKeyIndex)
	if !ok {
		return nil, nil, access.ErrInvalidKey
	}
	return pub, appKey, nil
}

// StartPeriodicPublication publishes the message returned by next every
// publish period of the model, until stopped. A nil message skips a
// period. Starting again replaces the previous publisher.
func (m *NetworkManager) StartPeriodicPublication(element address.Address, modelID uint32, next func() access.Message) error {
	src, err := m.sourceElement(element)
	if err != nil {
		return err
	}
	pub, _, err := m.publication(src, modelID)
	if err != nil {
		return err
	}
	if pub.Period <= 0 {
		return ErrNoPublishPeriod
	}

	key := publisherKey{element: src, model: modelID}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if prev, ok := m.publishers[key]; ok {
		prev.stopLocked()
	}
	p := &publisher{next: next}
	m.publishers[key] = p
	m.armPublisherLocked(key, p, pub.Period)
	return nil
}

// StopPeriodicPublication stops the publisher of a model. It reports
// whether one was running.
func (m *NetworkManager) StopPeriodicPublication(element address.Address, modelID uint32) bool {
	src, err := m.sourceElement(element)
	if err != nil {
		return false
	}
	key := publisherKey{element: src, model: modelID}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.publishers[key]
	if !ok {
		return false
	}
	p.stopLocked()
	delete(m.publishers, key)
	return true
}

func (m *NetworkManager) armPublisherLocked(key publisherKey, p *publisher, period time.Duration) {
	gen := p.gen
	p.timer = m.config.Scheduler.AfterFunc(period, func() { m.onPublishPeriod(key, p, gen) })
}

func (m *NetworkManager) onPublishPeriod(key publisherKey, p *publisher, gen uint64) {
	m.mu.Lock()
	if p.gen != gen || m.publishers[key] != p || m.closed {
		m.mu.Unlock()
		return
	}
	p.timer = nil
	m.mu.Unlock()

	// The period is re-read so configuration changes apply to the next one.
	pub, _, err := m.publication(key.element, key.model)
	if err != nil || pub.Period <= 0 {
		if m.log != nil {
			m.log.Infof("stopping periodic publication of model 0x%X on %s", key.model, key.element)
		}
		m.StopPeriodicPublication(key.element, key.model)
		return
	}

	m.mu.Lock()
	if p.gen != gen || m.publishers[key] != p || m.closed {
		m.mu.Unlock()
		return
	}
	m.armPublisherLocked(key, p, pub.Period)
	m.mu.Unlock()

	msg := p.next()
	if msg == nil {
		return
	}
	if _, err := m.Publish(msg, key.element, key.model); err != nil && m.log != nil {
		m.log.Warnf("periodic publication of model 0x%X failed: %v", key.model, err)
	}
}
