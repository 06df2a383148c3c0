package rooms

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aodjo/KakaoForge-sub001/internal/carriage"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

var ErrNoSession = errors.New("rooms: no carriage session")

// MemberCache keeps display names per room. Merges only add or update.
type MemberCache struct {
	mu        sync.RWMutex
	ttl       time.Duration
	names     map[int64]map[int64]string
	refreshed map[int64]time.Time
	now       func() time.Time
}

func NewMemberCache(ttl time.Duration) *MemberCache {
	return &MemberCache{
		ttl:       ttl,
		names:     make(map[int64]map[int64]string),
		refreshed: make(map[int64]time.Time),
		now:       time.Now,
	}
}

// Merge adds members to chatID. full marks the room refreshed now, which
// is only correct when members is the complete list.
func (m *MemberCache) Merge(chatID int64, members []carriage.Member, full bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.names[chatID]
	if !ok {
		room = make(map[int64]string)
		m.names[chatID] = room
	}
	n := 0
	for _, mem := range members {
		if mem.UserID == 0 || mem.Nickname == "" {
			continue
		}
		room[mem.UserID] = mem.Nickname
		n++
	}
	if full {
		m.refreshed[chatID] = m.now()
	}
	return n
}

// Forget drops one member, e.g. after a DELMEM push.
func (m *MemberCache) Forget(chatID, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.names[chatID], userID)
}

// Expire makes chatID due on the next refresh pass.
func (m *MemberCache) Expire(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.names[chatID]; !ok {
		m.names[chatID] = make(map[int64]string)
	}
	delete(m.refreshed, chatID)
}

func (m *MemberCache) Name(chatID, userID int64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.names[chatID][userID]
	return name, ok
}

// Names returns a copy of chatID's names.
func (m *MemberCache) Names(chatID int64) map[int64]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]string, len(m.names[chatID]))
	for id, name := range m.names[chatID] {
		out[id] = name
	}
	return out
}

// Due lists rooms whose last full refresh is at least ttl old.
func (m *MemberCache) Due(now time.Time) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []int64
	for chatID := range m.names {
		at, ok := m.refreshed[chatID]
		if !ok || now.Sub(at) >= m.ttl {
			out = append(out, chatID)
		}
	}
	slices.Sort(out)
	return out
}

// Len counts cached names across rooms.
func (m *MemberCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, room := range m.names {
		n += len(room)
	}
	return n
}

// Lookup is the subset of carriage verbs name resolution needs.
type Lookup interface {
	Members(ctx context.Context, chatID int64) ([]carriage.Member, error)
	MemberLookup(ctx context.Context, chatID int64, userIDs ...int64) ([]carriage.Member, error)
	ChatInfo(ctx context.Context, chatID int64) (carriage.ChatInfo, error)
}

// Resolver fills missing names and titles. Concurrent requests for the
// same room or room/user pair share one fetch.
type Resolver struct {
	source  func() Lookup
	rooms   *Cache
	members *MemberCache
	timeout time.Duration
	group   singleflight.Group
}

// NewResolver reads the current session through source on every fetch so
// reconnects swap it transparently. source may return nil while offline.
func NewResolver(source func() Lookup, rooms *Cache, members *MemberCache, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Resolver{source: source, rooms: rooms, members: members, timeout: timeout}
}

func (r *Resolver) Members() *MemberCache { return r.members }

// MemberName returns a cached name or looks userID up in chatID.
func (r *Resolver) MemberName(ctx context.Context, chatID, userID int64) (string, error) {
	if name, ok := r.members.Name(chatID, userID); ok {
		return name, nil
	}
	key := strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(userID, 10)
	_, err := r.do(ctx, key, func(ctx context.Context, l Lookup) (any, error) {
		found, err := l.MemberLookup(ctx, chatID, userID)
		if err != nil {
			return nil, err
		}
		r.members.Merge(chatID, found, false)
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	name, ok := r.members.Name(chatID, userID)
	if !ok {
		return "", fmt.Errorf("rooms: member %d not in chat %d", userID, chatID)
	}
	return name, nil
}

// RefreshRoom fetches the full member list of chatID.
func (r *Resolver) RefreshRoom(ctx context.Context, chatID int64) error {
	_, err := r.do(ctx, strconv.FormatInt(chatID, 10), func(ctx context.Context, l Lookup) (any, error) {
		members, err := l.Members(ctx, chatID)
		if err != nil {
			return nil, err
		}
		r.members.Merge(chatID, members, true)
		return nil, nil
	})
	return err
}

// RoomTitle returns the cached title, else asks CHATINFO. Untitled rooms
// are named after their members.
func (r *Resolver) RoomTitle(ctx context.Context, chatID int64) (string, error) {
	if room, ok := r.rooms.Get(chatID); ok && room.Title != "" {
		return room.Title, nil
	}
	_, err := r.do(ctx, "info:"+strconv.FormatInt(chatID, 10), func(ctx context.Context, l Lookup) (any, error) {
		info, err := l.ChatInfo(ctx, chatID)
		if err != nil {
			return nil, err
		}
		r.rooms.ApplyInfo(info)
		if len(info.Members) > 0 {
			r.members.Merge(chatID, info.Members, false)
		}
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	room, _ := r.rooms.Get(chatID)
	if room.Title != "" {
		return room.Title, nil
	}
	return r.memberTitle(chatID, room.MemberIDs), nil
}

func (r *Resolver) memberTitle(chatID int64, ids []int64) string {
	names := r.members.Names(chatID)
	var parts []string
	for _, id := range ids {
		if name, ok := names[id]; ok {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		for _, id := range slices.Sorted(maps.Keys(names)) {
			parts = append(parts, names[id])
		}
	}
	return strings.Join(parts, ", ")
}

// RefreshDue refreshes every room past its TTL and returns how many
// succeeded. Failures are logged and retried on the next tick.
func (r *Resolver) RefreshDue(ctx context.Context) int {
	ok := 0
	for _, chatID := range r.members.Due(r.members.now()) {
		if err := ctx.Err(); err != nil {
			return ok
		}
		if err := r.RefreshRoom(ctx, chatID); err != nil {
			log.Warn().Msgf("rooms.Resolver.RefreshDue chat=%d err=%v", chatID, err)
			continue
		}
		ok++
	}
	return ok
}

// do runs fn once per key. The shared fetch is bounded by the resolver
// timeout and not by any single caller's context.
func (r *Resolver) do(ctx context.Context, key string, fn func(context.Context, Lookup) (any, error)) (any, error) {
	ch := r.group.DoChan(key, func() (any, error) {
		l := r.source()
		if l == nil {
			return nil, ErrNoSession
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return fn(fetchCtx, l)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
