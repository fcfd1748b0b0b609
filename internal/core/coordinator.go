package core

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/loftchat/loftchat-server/internal/auth"
	"github.com/loftchat/loftchat-server/internal/store"
)

// forcedLogoutGrace is how long a force-logout signal has to reach the client
// before the underlying connection is torn down.
const forcedLogoutGrace = 500 * time.Millisecond

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,32}$`)

// Options tunes coordinator behavior.
type Options struct {
	HistoryLimit int
	KickCooldown time.Duration
	RecallWindow time.Duration
	Tokens       *auth.TokenConfig
}

func (o *Options) applyDefaults() {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 50
	}
	if o.KickCooldown <= 0 {
		o.KickCooldown = 5 * time.Minute
	}
	if o.RecallWindow <= 0 {
		o.RecallWindow = 2 * time.Minute
	}
}

// Coordinator owns every volatile directory of the system: accounts,
// sessions, rooms, cooldowns, banners and per-room history rings. All
// mutations run on a single goroutine (Run); exported operations marshal
// onto that goroutine and wait for the result. The moment an operation
// returns, the in-memory state is authoritative — only durable writes are
// deferred.
type Coordinator struct {
	opts  Options
	store store.Store
	tr    Transport
	log   *zerolog.Logger

	tasks chan func()
	now   func() time.Time

	accounts    map[string]*Account            // username -> account
	accountByID map[string]*Account            // persistentID -> account
	sessions    map[string]*Session            // connID -> session
	conns       map[string]map[string]struct{} // persistentID -> live connIDs
	rooms       map[string]*Room               // roomID -> room
	cooldowns   map[cooldownKey]time.Time
	banners     map[string]*Banner          // roomID -> banner
	history     map[string][]*store.Message // roomID -> bounded recent ring
	dmFallback  map[int64]*store.Message    // fallback-id DM messages, kept reachable for recall/delete
}

// NewCoordinator constructs a coordinator. Call Run before invoking any
// operation.
func NewCoordinator(st store.Store, tr Transport, opts Options, logger *zerolog.Logger) *Coordinator {
	opts.applyDefaults()
	return &Coordinator{
		opts:        opts,
		store:       st,
		tr:          tr,
		log:         logger,
		tasks:       make(chan func(), 256),
		now:         time.Now,
		accounts:    make(map[string]*Account),
		accountByID: make(map[string]*Account),
		sessions:    make(map[string]*Session),
		conns:       make(map[string]map[string]struct{}),
		rooms:       make(map[string]*Room),
		cooldowns:   make(map[cooldownKey]time.Time),
		banners:     make(map[string]*Banner),
		history:     make(map[string][]*store.Message),
		dmFallback:  make(map[int64]*store.Message),
	}
}

// Run processes operations one at a time until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-c.tasks:
			fn()
		}
	}
}

// do runs fn on the coordinator goroutine and waits for it to finish.
func (c *Coordinator) do(fn func()) {
	done := make(chan struct{})
	c.tasks <- func() {
		fn()
		close(done)
	}
	<-done
}

// persistAsync runs a durable write off the coordinator goroutine. Failures
// are logged and never rolled back into in-memory state.
func (c *Coordinator) persistAsync(op string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			c.log.Warn().Err(err).Str("op", op).Msg("durable write failed")
		}
	}()
}

// ==== session lifecycle ====

// Connect registers a placeholder anonymous session for a new connection.
func (c *Coordinator) Connect(connID string) {
	c.do(func() {
		c.sessions[connID] = &Session{ConnID: connID, DisplayName: "anonymous"}
	})
}

// Disconnect removes the session. If no other session shares its persistent
// id, DM contacts receive an offline presence notification.
func (c *Coordinator) Disconnect(connID string) {
	c.do(func() {
		sess, ok := c.sessions[connID]
		if !ok {
			return
		}
		if sess.CurrentRoomID != "" {
			c.leaveRoomLocked(sess)
		}
		delete(c.sessions, connID)

		if !sess.Authed {
			return
		}
		set := c.conns[sess.PersistentID]
		delete(set, connID)
		if len(set) == 0 {
			delete(c.conns, sess.PersistentID)
			c.notifyPresence(sess.PersistentID, sess.Username, false)
		}
	})
}

// Authenticate binds a full session to the connection. A valid resume token
// may be supplied instead of username/secret. An unseen username creates a
// new account; an existing one requires a matching secret. Persistence
// trouble during login degrades to defaults instead of failing the session.
func (c *Coordinator) Authenticate(connID, username, secret, token string) (*AccountView, error) {
	var view *AccountView
	var cerr *CoordError
	c.do(func() {
		view, cerr = c.authenticateLocked(connID, username, secret, token)
	})
	if cerr != nil {
		return nil, cerr
	}
	return view, nil
}

func (c *Coordinator) authenticateLocked(connID, username, secret, token string) (*AccountView, *CoordError) {
	sess, ok := c.sessions[connID]
	if !ok {
		return nil, coordError(ErrCodeNotFound, "unknown connection")
	}
	if sess.Authed {
		return nil, coordError(ErrCodeConflict, "already authenticated")
	}

	var acct *Account
	switch {
	case token != "":
		if c.opts.Tokens == nil {
			return nil, coordError(ErrCodeBadCredential, "token login disabled")
		}
		claims, err := auth.ValidateToken(c.opts.Tokens, token)
		if err != nil {
			return nil, coordError(ErrCodeBadCredential, "invalid token")
		}
		acct = c.accountByID[claims.PersistentID]
		if acct == nil {
			return nil, coordError(ErrCodeBadCredential, "unknown account")
		}
	default:
		username = strings.TrimSpace(username)
		if !usernameRe.MatchString(username) {
			return nil, coordError(ErrCodeValidation, "username must be 3-32 characters of letters, digits, _ or -")
		}
		if len(secret) < 4 || len(secret) > 64 {
			return nil, coordError(ErrCodeValidation, "password must be 4-64 characters")
		}

		acct = c.accounts[username]
		if acct == nil {
			hash, err := auth.HashSecret(secret)
			if err != nil {
				// Degrade rather than fail the login; the account just cannot
				// be re-entered from another device until re-created.
				c.log.Error().Err(err).Str("username", username).Msg("hash secret failed")
				hash = ""
			}
			acct = &Account{
				Username:     username,
				SecretHash:   hash,
				PersistentID: uuid.NewString(),
				JoinedRooms:  make(map[string]struct{}),
				CreatedAt:    c.now(),
			}
			c.accounts[username] = acct
			c.accountByID[acct.PersistentID] = acct
			c.log.Info().Str("username", username).Msg("account created")
		} else if auth.CompareSecret(acct.SecretHash, secret) != nil {
			return nil, coordError(ErrCodeBadCredential, "wrong password")
		}
	}

	c.bindSession(sess, acct)

	resumeToken := ""
	if c.opts.Tokens != nil {
		var err error
		resumeToken, err = auth.GenerateToken(c.opts.Tokens, acct.PersistentID, acct.Username, acct.IsAdmin)
		if err != nil {
			// Login still succeeds without a resume token.
			c.log.Warn().Err(err).Msg("mint resume token failed")
			resumeToken = ""
		}
	}

	return &AccountView{
		PersistentID: acct.PersistentID,
		Username:     acct.Username,
		DisplayName:  sess.DisplayName,
		IsAdmin:      acct.IsAdmin,
		AvatarID:     acct.AvatarID,
		Token:        resumeToken,
		Rooms:        c.roomSummaries(acct),
	}, nil
}

func (c *Coordinator) bindSession(sess *Session, acct *Account) {
	sess.PersistentID = acct.PersistentID
	sess.Username = acct.Username
	sess.IsAdmin = acct.IsAdmin
	sess.AvatarID = acct.AvatarID
	sess.Authed = true
	// Display name is fixed at bind time; never derived later from admin
	// checks at call sites.
	if acct.IsAdmin {
		sess.DisplayName = AdminDisplayName
	} else {
		sess.DisplayName = acct.Username
	}

	first := len(c.conns[acct.PersistentID]) == 0
	if c.conns[acct.PersistentID] == nil {
		c.conns[acct.PersistentID] = make(map[string]struct{})
	}
	c.conns[acct.PersistentID][sess.ConnID] = struct{}{}

	c.tr.JoinGroup(sess.ConnID, groupLobbyID)
	c.tr.JoinGroup(sess.ConnID, accountGroup(acct.PersistentID))

	if first {
		c.notifyPresence(acct.PersistentID, acct.Username, true)
	}
}

// notifyPresence fans an online/offline transition out to the account's DM
// contacts. Contact discovery reads the durable conversation registry, so it
// runs off the coordinator goroutine.
func (c *Coordinator) notifyPresence(persistentID, username string, online bool) {
	payload := PresencePayload{PersistentID: persistentID, Username: username, Online: online}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		summaries, err := c.store.ListConversationsFor(ctx, persistentID)
		if err != nil {
			c.log.Warn().Err(err).Msg("list conversations for presence failed")
			return
		}
		for _, sum := range summaries {
			c.tr.Broadcast(accountGroup(sum.Peer(persistentID)), EventPresenceChanged, payload)
		}
	}()
}

// ==== account operations ====

// SeedAdmin provisions (or upgrades) the configured admin account. Called at
// startup before Run; this is the only path that grants the admin flag.
func (c *Coordinator) SeedAdmin(username, secret string) error {
	username = strings.TrimSpace(username)
	if !usernameRe.MatchString(username) {
		return errors.New("invalid admin username")
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		return err
	}
	acct := c.accounts[username]
	if acct == nil {
		acct = &Account{
			Username:     username,
			PersistentID: uuid.NewString(),
			JoinedRooms:  make(map[string]struct{}),
			CreatedAt:    c.now(),
		}
		c.accounts[username] = acct
		c.accountByID[acct.PersistentID] = acct
	}
	acct.IsAdmin = true
	acct.SecretHash = hash
	return nil
}

// UpdateAvatar changes the account's avatar and mirrors it onto every live
// session of that account.
func (c *Coordinator) UpdateAvatar(connID, avatarID string) error {
	var cerr *CoordError
	c.do(func() {
		sess, err := c.requireAuthed(connID)
		if err != nil {
			cerr = err
			return
		}
		acct := c.accountByID[sess.PersistentID]
		acct.AvatarID = avatarID
		for otherID := range c.conns[sess.PersistentID] {
			if other := c.sessions[otherID]; other != nil {
				other.AvatarID = avatarID
			}
		}
	})
	if cerr != nil {
		return cerr
	}
	return nil
}

// SearchUsers finds accounts whose username contains the query.
func (c *Coordinator) SearchUsers(connID, query string) ([]UserView, error) {
	const maxResults = 20

	var views []UserView
	var cerr *CoordError
	c.do(func() {
		if _, err := c.requireAuthed(connID); err != nil {
			cerr = err
			return
		}
		q := strings.ToLower(strings.TrimSpace(query))
		if q == "" {
			cerr = coordError(ErrCodeValidation, "empty query")
			return
		}
		for username, acct := range c.accounts {
			if !strings.Contains(strings.ToLower(username), q) {
				continue
			}
			views = append(views, c.userView(acct))
		}
		sort.Slice(views, func(i, j int) bool { return views[i].Username < views[j].Username })
		if len(views) > maxResults {
			views = views[:maxResults]
		}
	})
	if cerr != nil {
		return nil, cerr
	}
	return views, nil
}

func (c *Coordinator) userView(acct *Account) UserView {
	display := acct.Username
	if acct.IsAdmin {
		display = AdminDisplayName
	}
	return UserView{
		PersistentID: acct.PersistentID,
		Username:     acct.Username,
		DisplayName:  display,
		AvatarID:     acct.AvatarID,
		Online:       len(c.conns[acct.PersistentID]) > 0,
		IsAdmin:      acct.IsAdmin,
	}
}

// DeleteAccount erases an account outright. Admin-only, forbidden against
// other admins. Live sessions get a force-logout signal, then their
// connections are dropped after a short grace delay.
func (c *Coordinator) DeleteAccount(connID, targetUsername string) error {
	var cerr *CoordError
	c.do(func() {
		actor, err := c.requireAuthed(connID)
		if err != nil {
			cerr = err
			return
		}
		if !actor.IsAdmin {
			cerr = coordError(ErrCodePermission, "admin only")
			return
		}
		target := c.accounts[targetUsername]
		if target == nil {
			cerr = coordError(ErrCodeNotFound, "no such account")
			return
		}
		if target.IsAdmin {
			cerr = coordError(ErrCodePermission, "cannot delete an admin account")
			return
		}

		// Sessions are unbound synchronously: the connection stays open for the
		// grace window so the logout signal can be delivered, but any request it
		// sends in that window must already be rejected as unauthenticated.
		for targetConnID := range c.conns[target.PersistentID] {
			c.tr.SendTo(targetConnID, EventForceLogout, nil)
			id := targetConnID
			time.AfterFunc(forcedLogoutGrace, func() { c.tr.Disconnect(id) })
			if sess := c.sessions[id]; sess != nil {
				if sess.CurrentRoomID != "" {
					c.leaveRoomLocked(sess)
				}
				delete(c.sessions, id)
			}
		}
		delete(c.conns, target.PersistentID)

		// Rooms owned by the erased account either gain a new owner from
		// their occupants or cease to exist.
		for _, room := range c.roomsOwnedBy(target.PersistentID) {
			if !c.transferOwnership(room, "") {
				c.dismissRoomLocked(room, "owner account deleted")
			}
		}

		delete(c.accounts, target.Username)
		delete(c.accountByID, target.PersistentID)
		c.log.Info().Str("username", target.Username).Msg("account deleted")
	})
	if cerr != nil {
		return cerr
	}
	return nil
}

// ==== shared helpers ====

func (c *Coordinator) requireAuthed(connID string) (*Session, *CoordError) {
	sess, ok := c.sessions[connID]
	if !ok {
		return nil, coordError(ErrCodeNotFound, "unknown connection")
	}
	if !sess.Authed {
		return nil, coordError(ErrCodePermission, "not logged in")
	}
	return sess, nil
}

func (c *Coordinator) sessionsInRoom(roomID string) []*Session {
	var out []*Session
	for _, sess := range c.sessions {
		if sess.CurrentRoomID == roomID {
			out = append(out, sess)
		}
	}
	return out
}

// visibleOccupants is the only occupancy definition exposed to non-admins:
// live sessions in the room that are not stealth.
func (c *Coordinator) visibleOccupants(roomID string) int {
	n := 0
	for _, sess := range c.sessions {
		if sess.CurrentRoomID == roomID && !sess.Stealth {
			n++
		}
	}
	return n
}

func (c *Coordinator) roomsOwnedBy(persistentID string) []*Room {
	var out []*Room
	for _, room := range c.rooms {
		if room.OwnerID == persistentID {
			out = append(out, room)
		}
	}
	return out
}

func (c *Coordinator) roomSummaries(acct *Account) []RoomSummary {
	out := make([]RoomSummary, 0, len(c.rooms))
	for _, room := range c.rooms {
		_, joined := acct.JoinedRooms[room.ID]
		out = append(out, RoomSummary{
			ID:        room.ID,
			Name:      room.Name,
			OwnerID:   room.OwnerID,
			Occupants: c.visibleOccupants(room.ID),
			Joined:    joined,
			CreatedAt: room.CreatedAt.Unix(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

// pushRoomLists refreshes the room list of every online account that has
// joined the given room.
func (c *Coordinator) pushRoomLists(roomID string) {
	for _, acct := range c.accounts {
		if _, joined := acct.JoinedRooms[roomID]; !joined {
			continue
		}
		if len(c.conns[acct.PersistentID]) == 0 {
			continue
		}
		c.tr.Broadcast(accountGroup(acct.PersistentID), EventRoomList, c.roomSummaries(acct))
	}
}
