// Package gossip forms the full mesh. The host introduces every newcomer to
// the existing peers and back; each introduction is applied as an
// idempotent merge into the directory followed by connects.
package gossip

import (
	"github.com/rudransh-shrivastava/peer-mesh/internal/directory"
	"github.com/rudransh-shrivastava/peer-mesh/internal/dispatch"
	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport"
	"github.com/sirupsen/logrus"
)

// Dispatcher is the part of dispatch.Dispatcher the mesh drives.
type Dispatcher interface {
	Broadcast(msg protocol.Message) int
	SendToOne(id string, msg protocol.Message) bool
	SendToSubset(ids []string, msg protocol.Message) bool
	SendOpen(msg protocol.Message) int
	Connect(id string) *dispatch.Connection
	IsOpen(id string) bool
}

type Options struct {
	Directory  *directory.Directory
	Dispatcher Dispatcher
	// Host is set on the session originator; HostID is its id on every peer.
	Host     bool
	HostID   string
	Nickname string
	Logger   *logrus.Logger
}

type Mesh struct {
	dir      *directory.Directory
	disp     Dispatcher
	host     bool
	hostID   string
	nickname string
	// introduced holds peers the host already announced.
	introduced map[string]bool
	logger     *logrus.Entry
}

func New(opts Options) *Mesh {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Mesh{
		dir:        opts.Directory,
		disp:       opts.Dispatcher,
		host:       opts.Host,
		hostID:     opts.HostID,
		nickname:   opts.Nickname,
		introduced: make(map[string]bool),
		logger:     logger.WithField("component", "gossip"),
	}
}

// LinkOpened records the peer behind a newly opened link and announces our
// nickname on it. A joiner also asks the host for the full device list. It
// reports whether the peer was new to the directory.
func (m *Mesh) LinkOpened(link transport.Link) bool {
	peer := link.PeerID()
	isNew := m.dir.Upsert(peer, link.Metadata().Nickname)

	m.disp.SendToOne(peer, &protocol.Nickname{Nickname: m.nickname, From: m.dir.Self()})
	if !m.host && peer == m.hostID {
		m.disp.SendToOne(peer, &protocol.RequestDevices{From: m.dir.Self()})
	}
	return isNew
}

// HandleNickname applies a nickname announcement. On the host, the first
// announcement of a peer triggers its introduction.
func (m *Mesh) HandleNickname(from string, msg *protocol.Nickname) bool {
	isNew := m.dir.Upsert(from, msg.Nickname)
	if m.host && !m.introduced[from] {
		m.introduced[from] = true
		m.introduce(from, msg.Nickname)
	}
	return isNew
}

func (m *Mesh) introduce(newcomer, nickname string) {
	existing := m.dir.Infos(newcomer, m.dir.Self())
	m.disp.SendToOne(newcomer, &protocol.NewDevice{
		DeviceID:        newcomer,
		Nickname:        nickname,
		ExistingDevices: existing,
	})

	others := make([]string, 0, len(existing))
	for _, d := range existing {
		others = append(others, d.ID)
	}
	if len(others) > 0 {
		m.disp.SendToSubset(others, &protocol.NewDevice{DeviceID: newcomer, Nickname: nickname})
	}
	m.logger.Infof("Introduced %s to %d peers", nickname, len(others))
}

// HandleNewDevice merges the introduced devices and connects to each. It
// returns the ids learned from this message.
func (m *Mesh) HandleNewDevice(from string, msg *protocol.NewDevice) []string {
	devices := make([]protocol.DeviceInfo, 0, len(msg.ExistingDevices)+1)
	devices = append(devices, protocol.DeviceInfo{ID: msg.DeviceID, Nickname: msg.Nickname})
	devices = append(devices, msg.ExistingDevices...)
	return m.merge(devices)
}

// HandleRequestDevices answers with every device except the requester.
func (m *Mesh) HandleRequestDevices(from string, msg *protocol.RequestDevices) {
	if !m.host {
		return
	}
	m.disp.SendToOne(from, &protocol.DevicesList{Devices: m.dir.Infos(from)})
}

func (m *Mesh) HandleDevicesList(from string, msg *protocol.DevicesList) []string {
	return m.merge(msg.Devices)
}

func (m *Mesh) merge(devices []protocol.DeviceInfo) []string {
	learned := m.dir.Merge(devices)
	for _, d := range devices {
		if d.ID == "" || d.ID == m.dir.Self() {
			continue
		}
		m.disp.Connect(d.ID)
	}
	if len(learned) > 0 {
		m.logger.Debugf("Learned %d devices", len(learned))
	}
	return learned
}

// HandleDeviceLeft removes a departed device. Notices about a peer we still
// hold an open link to are ignored.
func (m *Mesh) HandleDeviceLeft(from string, msg *protocol.DeviceLeft) (string, bool) {
	if msg.DeviceID == m.dir.Self() {
		return "", false
	}
	if m.disp.IsOpen(msg.DeviceID) && msg.DeviceID != from {
		return "", false
	}
	delete(m.introduced, msg.DeviceID)
	return m.dir.Remove(msg.DeviceID)
}

// PeerClosed forgets a peer whose link closed. The host tells everyone else.
func (m *Mesh) PeerClosed(peer string) (string, bool) {
	nickname, ok := m.dir.Remove(peer)
	delete(m.introduced, peer)
	if ok && m.host {
		m.disp.Broadcast(&protocol.DeviceLeft{DeviceID: peer, Nickname: nickname})
	}
	return nickname, ok
}

// Leave tells every open peer that we are leaving.
func (m *Mesh) Leave() int {
	return m.disp.SendOpen(&protocol.DeviceLeft{DeviceID: m.dir.Self(), Nickname: m.nickname})
}
