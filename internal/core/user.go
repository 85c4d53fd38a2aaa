package core

import (
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/betairc-server/internal/proto"
)

// nickPattern mirrors the handshake rule: 3-16 alphanumerics or underscores.
var nickPattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,16}$`)

// ValidNickname reports whether s is an acceptable nickname.
func ValidNickname(s string) bool {
	return nickPattern.MatchString(s)
}

// User is one connected participant. The admin flag is fixed for the session.
type User struct {
	Nick        string
	IsAdmin     bool
	Session     *Session
	Channels    map[string]struct{}
	ConnectedAt time.Time
}

// UserInfo is a point-in-time copy of a user, safe to hand out.
type UserInfo struct {
	Nick        string
	IsAdmin     bool
	Channels    []string
	ConnectedAt time.Time
}

// UserRegistry is the authoritative store for connected users. Joint
// operations that must keep user.Channels and channel.members mirrored
// (join, leave, kick, ban, rename, deregister) live here and hold the user
// lock across the channel registry call; the lock order is always users
// before channels, so the pair can never deadlock and no caller observes
// split state through the registries.
type UserRegistry struct {
	mu       sync.RWMutex
	users    map[string]*User
	channels *ChannelRegistry
	log      zerolog.Logger
}

// NewUserRegistry builds an empty registry coordinating with channels.
func NewUserRegistry(channels *ChannelRegistry, logger zerolog.Logger) *UserRegistry {
	return &UserRegistry{
		users:    make(map[string]*User),
		channels: channels,
		log:      logger,
	}
}

// Register claims a nickname for the session. Check-and-insert is one step
// under the lock: of two concurrent claims for the same nickname exactly one
// succeeds.
func (r *UserRegistry) Register(nickname string, sess *Session, isAdmin bool) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.users[nickname]; taken {
		return nil, badRequest("nickname already in use")
	}
	u := &User{
		Nick:        nickname,
		IsAdmin:     isAdmin,
		Session:     sess,
		Channels:    make(map[string]struct{}),
		ConnectedAt: time.Now(),
	}
	r.users[nickname] = u
	r.log.Info().Str("nickname", nickname).Bool("admin", isAdmin).Msg("user registered")
	return u, nil
}

// Rename changes a user's nickname and relabels every channel membership
// under the same lock scope that performed the uniqueness check.
func (r *UserRegistry) Rename(oldNick, newNick string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[oldNick]
	if !ok {
		return notFound("unknown user: " + oldNick)
	}
	if _, taken := r.users[newNick]; taken {
		return badRequest("nickname already in use")
	}

	delete(r.users, oldNick)
	u.Nick = newNick
	r.users[newNick] = u
	r.channels.RelabelMember(channelNames(u), oldNick, newNick)
	r.log.Info().Str("old", oldNick).Str("new", newNick).Msg("user renamed")
	return nil
}

// Deregister removes the user and drops the nickname from every joined
// channel. It returns the channels the user was in so the caller can send
// leave notices before the connection is torn down. Deregistering an unknown
// nickname is a no-op, which makes connection cleanup idempotent.
func (r *UserRegistry) Deregister(nickname string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[nickname]
	if !ok {
		return nil
	}
	joined := channelNames(u)
	r.channels.DropMember(joined, nickname)
	delete(r.users, nickname)
	r.log.Info().Str("nickname", nickname).Msg("user deregistered")
	return joined
}

// JoinChannel adds the user to a channel and mirrors the membership on the
// user record, returning the backfill snapshot.
func (r *UserRegistry) JoinChannel(nickname, channel string) (JoinInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[nickname]
	if !ok {
		return JoinInfo{}, notFound("unknown user: " + nickname)
	}
	info, err := r.channels.Join(channel, nickname, u.Session)
	if err != nil {
		return JoinInfo{}, err
	}
	u.Channels[channel] = struct{}{}
	return info, nil
}

// LeaveChannel removes the user from a channel on both sides of the mirror.
func (r *UserRegistry) LeaveChannel(nickname, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[nickname]
	if !ok {
		return notFound("unknown user: " + nickname)
	}
	if err := r.channels.Leave(channel, nickname); err != nil {
		return err
	}
	delete(u.Channels, channel)
	return nil
}

// KickFrom removes the target from a channel without banning. Rejoin is
// allowed; a ban is the only persistent exclusion.
func (r *UserRegistry) KickFrom(channel, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.channels.Remove(channel, target); err != nil {
		return err
	}
	if tu, ok := r.users[target]; ok {
		delete(tu.Channels, channel)
	}
	return nil
}

// BanFrom bans the target from a channel, removing them first if currently a
// member. The target does not have to be connected.
func (r *UserRegistry) BanFrom(channel, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.channels.Ban(channel, target)
	if tu, ok := r.users[target]; ok {
		delete(tu.Channels, channel)
	}
}

// Broadcast pushes one envelope to every connected user. Sessions that cannot
// keep up are dropped rather than blocking, same as channel fan-out.
func (r *UserRegistry) Broadcast(env proto.Envelope) {
	line := proto.EncodeEnvelope(env)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for nick, u := range r.users {
		if !u.Session.Push(line) {
			r.log.Warn().Str("nickname", nick).Msg("outbound queue full, dropping connection")
			u.Session.Close()
		}
	}
}

// Lookup returns a copy of the user's state.
func (r *UserRegistry) Lookup(nickname string) (UserInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[nickname]
	if !ok {
		return UserInfo{}, false
	}
	return userInfo(u), true
}

// LookupSession returns the live connection handle for a nickname.
func (r *UserRegistry) LookupSession(nickname string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[nickname]
	if !ok {
		return nil, false
	}
	return u.Session, true
}

// Count returns the number of connected users.
func (r *UserRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Snapshot returns a copy of every connected user, sorted by nickname.
func (r *UserRegistry) Snapshot() []UserInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]UserInfo, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, userInfo(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nick < out[j].Nick })
	return out
}

func userInfo(u *User) UserInfo {
	return UserInfo{
		Nick:        u.Nick,
		IsAdmin:     u.IsAdmin,
		Channels:    channelNames(u),
		ConnectedAt: u.ConnectedAt,
	}
}

func channelNames(u *User) []string {
	names := make([]string, 0, len(u.Channels))
	for name := range u.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
