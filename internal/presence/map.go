// Package presence 살아있는 연결이 어느 사용자, 어느 방에 속하는지 추적한다.
package presence

import (
	"context"
	"sort"
	"sync"
)

// Entry 방 안에서 연결 하나와 사용자의 매핑
type Entry struct {
	ConnID      string `json:"connectionId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	RoomID      string `json:"roomId"`
}

// Observer 변경 알림 수신자 (맵 잠금 밖에서 호출)
type Observer interface {
	Bound(e Entry)
	Released(e Entry)
}

// Heartbeater 항목이 만료되는 Observer 가 구현
type Heartbeater interface {
	Heartbeat(ctx context.Context, e Entry) error
}

// Map 연결 → 항목, 사용자 → 연결 두 인덱스를 항상 함께 갱신한다.
// 사용자당 살아있는 연결은 최대 하나.
type Map struct {
	mu       sync.RWMutex
	byConn   map[string]Entry
	byUser   map[string]string
	observer Observer
}

// NewMap 빈 프레즌스 맵 생성 (observer 는 nil 가능)
func NewMap(observer Observer) *Map {
	return &Map{
		byConn:   make(map[string]Entry),
		byUser:   make(map[string]string),
		observer: observer,
	}
}

// Bind e 기록. 같은 사용자의 이전 연결은 밀려나고, 호출자가 닫을 수 있게 반환된다.
func (m *Map) Bind(e Entry) (stale *Entry) {
	var released []Entry

	m.mu.Lock()
	if prevConn, ok := m.byUser[e.UserID]; ok && prevConn != e.ConnID {
		if prev, ok := m.byConn[prevConn]; ok {
			delete(m.byConn, prevConn)
			p := prev
			stale = &p
			released = append(released, prev)
		}
	}
	// 이 연결이 이전에 다른 사용자로 묶였을 수 있다
	if prev, ok := m.byConn[e.ConnID]; ok && prev.UserID != e.UserID {
		if m.byUser[prev.UserID] == e.ConnID {
			delete(m.byUser, prev.UserID)
		}
		released = append(released, prev)
	}
	m.byConn[e.ConnID] = e
	m.byUser[e.UserID] = e.ConnID
	m.mu.Unlock()

	if m.observer != nil {
		for _, r := range released {
			m.observer.Released(r)
		}
		m.observer.Bound(e)
	}
	return stale
}

// Lookup 연결의 항목 조회
func (m *Map) Lookup(connID string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.byConn[connID]
	return e, ok
}

// LookupUser 사용자의 살아있는 항목 조회. 끊어진 역인덱스는 반환하지 않고 지운다.
func (m *Map) LookupUser(userID string) (Entry, bool) {
	m.mu.RLock()
	connID, ok := m.byUser[userID]
	var e Entry
	var live bool
	if ok {
		e, live = m.byConn[connID]
		live = live && e.UserID == userID
	}
	m.mu.RUnlock()

	if !ok {
		return Entry{}, false
	}
	if live {
		return e, true
	}

	m.mu.Lock()
	if m.byUser[userID] == connID {
		if cur, exists := m.byConn[connID]; !exists || cur.UserID != userID {
			delete(m.byUser, userID)
		}
	}
	m.mu.Unlock()
	return Entry{}, false
}

// Remove 연결 삭제. 사용자 인덱스는 아직 이 연결을 가리킬 때만 지운다.
func (m *Map) Remove(connID string) (Entry, bool) {
	m.mu.Lock()
	e, ok := m.byConn[connID]
	if ok {
		delete(m.byConn, connID)
		if m.byUser[e.UserID] == connID {
			delete(m.byUser, e.UserID)
		}
	}
	m.mu.Unlock()

	if ok && m.observer != nil {
		m.observer.Released(e)
	}
	return e, ok
}

// Touch 살아있는 연결의 Observer 사본 갱신. 모르는 연결이나 만료 없는 Observer 면 무시
func (m *Map) Touch(ctx context.Context, connID string) error {
	e, ok := m.Lookup(connID)
	if !ok {
		return nil
	}
	hb, ok := m.observer.(Heartbeater)
	if !ok {
		return nil
	}
	return hb.Heartbeat(ctx, e)
}

// InRoom 방의 항목 (userId 순)
func (m *Map) InRoom(roomID string) []Entry {
	m.mu.RLock()
	entries := make([]Entry, 0)
	for _, e := range m.byConn {
		if e.RoomID == roomID {
			entries = append(entries, e)
		}
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UserID < entries[j].UserID
	})
	return entries
}

// RemoveRoom 방의 모든 항목 삭제 후 반환
func (m *Map) RemoveRoom(roomID string) []Entry {
	m.mu.Lock()
	removed := make([]Entry, 0)
	for connID, e := range m.byConn {
		if e.RoomID != roomID {
			continue
		}
		delete(m.byConn, connID)
		if m.byUser[e.UserID] == connID {
			delete(m.byUser, e.UserID)
		}
		removed = append(removed, e)
	}
	m.mu.Unlock()

	if m.observer != nil {
		for _, e := range removed {
			m.observer.Released(e)
		}
	}
	sort.Slice(removed, func(i, j int) bool {
		return removed[i].UserID < removed[j].UserID
	})
	return removed
}

// Len 살아있는 연결 수
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConn)
}
