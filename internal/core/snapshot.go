package core

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/loftchat/loftchat-server/internal/store"
)

// snapshotKey is the single row under which coordinator state is persisted.
const snapshotKey = "coordinator"

type accountSnapshot struct {
	Username     string    `json:"username"`
	SecretHash   string    `json:"secret_hash"`
	PersistentID string    `json:"persistent_id"`
	IsAdmin      bool      `json:"is_admin"`
	AvatarID     string    `json:"avatar_id,omitempty"`
	JoinedRooms  []string  `json:"joined_rooms,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type roomSnapshot struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

type bannerSnapshot struct {
	RoomID    string    `json:"room_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
}

type cooldownSnapshot struct {
	RoomID   string    `json:"room_id"`
	Username string    `json:"username"`
	Until    time.Time `json:"until"`
}

// coordinatorSnapshot captures everything that must survive a restart and is
// not already in the durable message log. Sessions and connections are
// deliberately absent: they die with the process.
type coordinatorSnapshot struct {
	TakenAt   time.Time          `json:"taken_at"`
	Accounts  []accountSnapshot  `json:"accounts"`
	Rooms     []roomSnapshot     `json:"rooms"`
	Banners   []bannerSnapshot   `json:"banners,omitempty"`
	Cooldowns []cooldownSnapshot `json:"cooldowns,omitempty"`
}

// Snapshot captures the volatile directories on the coordinator goroutine and
// writes the blob outside it.
func (c *Coordinator) Snapshot(ctx context.Context) error {
	var snap coordinatorSnapshot
	c.do(func() {
		snap = c.captureSnapshot()
	})

	blob, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := c.store.SaveSnapshot(ctx, snapshotKey, blob); err != nil {
		return err
	}
	c.log.Debug().Int("accounts", len(snap.Accounts)).Int("rooms", len(snap.Rooms)).Msg("snapshot written")
	return nil
}

func (c *Coordinator) captureSnapshot() coordinatorSnapshot {
	now := c.now()
	snap := coordinatorSnapshot{TakenAt: now}

	for _, acct := range c.accounts {
		as := accountSnapshot{
			Username:     acct.Username,
			SecretHash:   acct.SecretHash,
			PersistentID: acct.PersistentID,
			IsAdmin:      acct.IsAdmin,
			AvatarID:     acct.AvatarID,
			CreatedAt:    acct.CreatedAt,
		}
		for roomID := range acct.JoinedRooms {
			as.JoinedRooms = append(as.JoinedRooms, roomID)
		}
		snap.Accounts = append(snap.Accounts, as)
	}
	for _, room := range c.rooms {
		snap.Rooms = append(snap.Rooms, roomSnapshot{
			ID:        room.ID,
			Name:      room.Name,
			OwnerID:   room.OwnerID,
			CreatedAt: room.CreatedAt,
		})
	}
	for roomID, banner := range c.banners {
		snap.Banners = append(snap.Banners, bannerSnapshot{
			RoomID:    roomID,
			Message:   banner.Message,
			CreatedAt: banner.CreatedAt,
			CreatedBy: banner.CreatedBy,
		})
	}
	// Cooldowns are stored as kick timestamps; persist the expiry instant so
	// restore does not depend on the configured duration staying the same.
	for key, kickedAt := range c.cooldowns {
		until := kickedAt.Add(c.opts.KickCooldown)
		if !now.Before(until) {
			continue
		}
		snap.Cooldowns = append(snap.Cooldowns, cooldownSnapshot{
			RoomID:   key.RoomID,
			Username: key.Username,
			Until:    until,
		})
	}
	return snap
}

// RestoreSnapshot loads the last snapshot into the coordinator. Must be called
// before Run; a missing snapshot is a clean first start, not an error.
func (c *Coordinator) RestoreSnapshot(ctx context.Context) error {
	blob, err := c.store.LoadSnapshot(ctx, snapshotKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	var snap coordinatorSnapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return err
	}

	for _, as := range snap.Accounts {
		acct := &Account{
			Username:     as.Username,
			SecretHash:   as.SecretHash,
			PersistentID: as.PersistentID,
			IsAdmin:      as.IsAdmin,
			AvatarID:     as.AvatarID,
			JoinedRooms:  make(map[string]struct{}, len(as.JoinedRooms)),
			CreatedAt:    as.CreatedAt,
		}
		for _, roomID := range as.JoinedRooms {
			acct.JoinedRooms[roomID] = struct{}{}
		}
		c.accounts[acct.Username] = acct
		c.accountByID[acct.PersistentID] = acct
	}
	for _, rs := range snap.Rooms {
		c.rooms[rs.ID] = &Room{ID: rs.ID, Name: rs.Name, OwnerID: rs.OwnerID, CreatedAt: rs.CreatedAt}
	}
	for _, bs := range snap.Banners {
		c.banners[bs.RoomID] = &Banner{Message: bs.Message, CreatedAt: bs.CreatedAt, CreatedBy: bs.CreatedBy}
	}
	now := c.now()
	for _, cs := range snap.Cooldowns {
		if now.Before(cs.Until) {
			key := cooldownKey{RoomID: cs.RoomID, Username: cs.Username}
			c.cooldowns[key] = cs.Until.Add(-c.opts.KickCooldown)
		}
	}

	c.log.Info().
		Int("accounts", len(snap.Accounts)).
		Int("rooms", len(snap.Rooms)).
		Time("taken_at", snap.TakenAt).
		Msg("snapshot restored")
	return nil
}
