// Package directory keeps the locally known devices of a session.
package directory

import (
	"sort"
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
)

type Device struct {
	ID       string
	Nickname string
	JoinedAt time.Time
}

// Directory maps peer ids to devices. The local device is always present
// and never counted among the others. It is not safe for concurrent use;
// the owning session serializes access.
type Directory struct {
	self    string
	devices map[string]*Device
	now     func() time.Time
}

func New(selfID, selfNickname string, now func() time.Time) *Directory {
	if now == nil {
		now = time.Now
	}
	d := &Directory{
		self:    selfID,
		devices: make(map[string]*Device),
		now:     now,
	}
	d.devices[selfID] = &Device{ID: selfID, Nickname: selfNickname, JoinedAt: now()}
	return d
}

func (d *Directory) Self() string {
	return d.self
}

// Upsert inserts or renames a device and reports whether the id was new.
// An empty nickname never replaces a known one.
func (d *Directory) Upsert(id, nickname string) bool {
	if dev, ok := d.devices[id]; ok {
		if nickname != "" {
			dev.Nickname = nickname
		}
		return false
	}
	d.devices[id] = &Device{ID: id, Nickname: nickname, JoinedAt: d.now()}
	return true
}

// Remove deletes a device. The local device cannot be removed.
func (d *Directory) Remove(id string) (string, bool) {
	if id == d.self {
		return "", false
	}
	dev, ok := d.devices[id]
	if !ok {
		return "", false
	}
	delete(d.devices, id)
	return dev.Nickname, true
}

// ListOthers returns every known id except the local one, sorted.
func (d *Directory) ListOthers() []string {
	ids := make([]string, 0, len(d.devices))
	for id := range d.devices {
		if id != d.self {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Merge unions devices into the directory and returns the ids it learned.
// Applying the same list twice is a no-op.
func (d *Directory) Merge(devices []protocol.DeviceInfo) []string {
	var learned []string
	for _, info := range devices {
		if info.ID == "" || info.ID == d.self {
			continue
		}
		if d.Upsert(info.ID, info.Nickname) {
			learned = append(learned, info.ID)
		}
	}
	return learned
}

func (d *Directory) Get(id string) (Device, bool) {
	dev, ok := d.devices[id]
	if !ok {
		return Device{}, false
	}
	return *dev, true
}

// Nickname returns the known nickname of id, or id itself when unnamed.
func (d *Directory) Nickname(id string) string {
	if dev, ok := d.devices[id]; ok && dev.Nickname != "" {
		return dev.Nickname
	}
	return id
}

// List returns all devices ordered by join time, the local device first.
func (d *Directory) List() []Device {
	out := make([]Device, 0, len(d.devices))
	for _, dev := range d.devices {
		out = append(out, *dev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID == d.self || out[j].ID == d.self {
			return out[i].ID == d.self
		}
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Infos returns every device in wire form, self included, skipping the
// given ids.
func (d *Directory) Infos(exclude ...string) []protocol.DeviceInfo {
	skip := make(map[string]bool, len(exclude)+1)
	for _, id := range exclude {
		skip[id] = true
	}
	out := make([]protocol.DeviceInfo, 0, len(d.devices))
	for _, dev := range d.List() {
		if skip[dev.ID] {
			continue
		}
		out = append(out, protocol.DeviceInfo{ID: dev.ID, Nickname: dev.Nickname})
	}
	return out
}

func (d *Directory) Len() int {
	return len(d.devices)
}
