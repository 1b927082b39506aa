package mesh

import (
	"errors"

	"github.com/backkem/btmesh/pkg/access"
	"github.com/backkem/btmesh/pkg/directory"
	"github.com/backkem/btmesh/pkg/models"
)

// serveConfig answers the configuration messages the local node handles
// itself. It reports whether req was consumed.
func (m *NetworkManager) serveConfig(req *Request) bool {
	var (
		response access.Message
		change   bool
		reset    bool
	)
	switch msg := req.Message.(type) {
	case *models.ConfigAppKeyAdd:
		var status models.ConfigStatus
		status, change = m.addApplicationKey(msg)
		response = &models.ConfigAppKeyStatus{Status: status, NetKeyIndex: msg.NetKeyIndex, AppKeyIndex: msg.AppKeyIndex}
	case *models.ConfigAppKeyDelete:
		_, existed := m.dir.ApplicationKey(msg.AppKeyIndex)
		status := m.deleteApplicationKey(msg)
		change = existed && status == models.StatusSuccess
		response = &models.ConfigAppKeyStatus{Status: status, NetKeyIndex: msg.NetKeyIndex, AppKeyIndex: msg.AppKeyIndex}
	case *models.ConfigNodeReset:
		reset = true
		response = &models.ConfigNodeResetStatus{}
	default:
		return false
	}

	if err := m.Reply(req, response); err != nil && m.log != nil {
		m.log.Warnf("config status to %s failed: %v", req.Source, err)
	}
	if change {
		m.emit(NetworkDidChange{Reason: ChangeApplicationKeys})
	}
	if reset {
		if m.log != nil {
			m.log.Infof("node reset by %s", req.Source)
		}
		m.emit(NetworkDidReset{})
	}
	return true
}

// addApplicationKey also reports whether the key is new. Adding an
// identical key again succeeds without a change.
func (m *NetworkManager) addApplicationKey(msg *models.ConfigAppKeyAdd) (models.ConfigStatus, bool) {
	store, ok := m.dir.(directory.KeyStore)
	if !ok {
		return models.StatusStorageFailure, false
	}
	_, existed := m.dir.ApplicationKey(msg.AppKeyIndex)
	err := store.AddApplicationKey(msg.AppKeyIndex, msg.NetKeyIndex, msg.AppKey)
	switch {
	case err == nil:
		if !existed && m.log != nil {
			m.log.Infof("application key %d added", msg.AppKeyIndex)
		}
		return models.StatusSuccess, !existed
	case errors.Is(err, directory.ErrUnknownNetworkKey):
		return models.StatusInvalidNetKeyIndex, false
	case errors.Is(err, directory.ErrKeyIndexAlreadyStored):
		return models.StatusKeyIndexAlreadyStored, false
	case errors.Is(err, directory.ErrNoLocalNode):
		return models.StatusStorageFailure, false
	default:
		if m.log != nil {
			m.log.Warnf("adding application key %d: %v", msg.AppKeyIndex, err)
		}
		return models.StatusUnspecifiedError, false
	}
}

func (m *NetworkManager) deleteApplicationKey(msg *models.ConfigAppKeyDelete) models.ConfigStatus {
	store, ok := m.dir.(directory.KeyStore)
	if !ok {
		return models.StatusStorageFailure
	}
	if _, ok := m.dir.NetworkKey(msg.NetKeyIndex); !ok {
		return models.StatusInvalidNetKeyIndex
	}
	err := store.DeleteApplicationKey(msg.AppKeyIndex)
	switch {
	case err == nil:
		return models.StatusSuccess
	case errors.Is(err, directory.ErrKeyInUse):
		if m.log != nil {
			m.log.Debugf("%v: application key %d", access.ErrCannotDelete, msg.AppKeyIndex)
		}
		return models.StatusCannotRemove
	case errors.Is(err, directory.ErrNoLocalNode):
		return models.StatusStorageFailure
	default:
		return models.StatusUnspecifiedError
	}
}
