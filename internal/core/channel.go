package core

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/betairc-server/internal/proto"
)

// Channel groups members subscribed to the same conversation. Channels are
// created implicitly on first join and persist when empty, which sidesteps
// destroy-while-joining races. Member sessions are weak references; the user
// registry owns the users.
type Channel struct {
	name      string
	topic     string
	createdAt time.Time
	members   map[string]*Session
	banned    map[string]struct{}
	history   []proto.Envelope
}

// ChannelInfo is a point-in-time view of one channel.
type ChannelInfo struct {
	Name    string
	Topic   string
	Members int
}

// JoinInfo is the snapshot handed to a joining user for backfill.
type JoinInfo struct {
	Topic   string
	Members []string
	History []proto.Envelope
}

// ChannelRegistry is the authoritative store for channel state. A single
// mutex serializes every read-modify-write; history append and broadcast
// fan-out happen under it, so members of one channel observe envelopes in
// append order.
type ChannelRegistry struct {
	mu          sync.Mutex
	channels    map[string]*Channel
	historySize int
	log         zerolog.Logger
}

// NewChannelRegistry builds an empty registry with the given history bound.
func NewChannelRegistry(historySize int, logger zerolog.Logger) *ChannelRegistry {
	if historySize <= 0 {
		historySize = 1
	}
	return &ChannelRegistry{
		channels:    make(map[string]*Channel),
		historySize: historySize,
		log:         logger,
	}
}

// Normalize ensures a channel name carries the leading '#'.
func Normalize(name string) string {
	if strings.HasPrefix(name, "#") {
		return name
	}
	return "#" + name
}

func (r *ChannelRegistry) getOrCreateLocked(name string) *Channel {
	ch, ok := r.channels[name]
	if !ok {
		ch = &Channel{
			name:      name,
			createdAt: time.Now(),
			members:   make(map[string]*Session),
			banned:    make(map[string]struct{}),
		}
		r.channels[name] = ch
		r.log.Debug().Str("channel", name).Msg("channel created")
	}
	return ch
}

// Seed creates a channel with a topic if it does not exist yet.
func (r *ChannelRegistry) Seed(name, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := r.getOrCreateLocked(Normalize(name))
	if ch.topic == "" {
		ch.topic = topic
	}
}

// SeedBan restores a persisted ban without notifying anyone.
func (r *ChannelRegistry) SeedBan(name, nickname string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getOrCreateLocked(Normalize(name)).banned[nickname] = struct{}{}
}

// Join adds nickname to the channel, creating it on first use, and returns
// the backfill snapshot. Banned nicknames are refused before any state
// changes, so they can never appear as members, even transiently.
func (r *ChannelRegistry) Join(name, nickname string, sess *Session) (JoinInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := r.getOrCreateLocked(name)
	if _, banned := ch.banned[nickname]; banned {
		return JoinInfo{}, forbidden("you are banned from " + name)
	}
	ch.members[nickname] = sess

	info := JoinInfo{
		Topic:   ch.topic,
		Members: memberNamesLocked(ch),
		History: make([]proto.Envelope, len(ch.history)),
	}
	copy(info.History, ch.history)
	return info, nil
}

// Leave removes nickname from the channel's members.
func (r *ChannelRegistry) Leave(name, nickname string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[name]
	if !ok {
		return notFound("channel " + name + " not found")
	}
	if _, member := ch.members[nickname]; !member {
		return notFound("you are not in " + name)
	}
	delete(ch.members, nickname)
	return nil
}

// Remove drops a target from the channel's members without banning, for kick
// semantics. Admin permission is checked by the caller.
func (r *ChannelRegistry) Remove(name, nickname string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[name]
	if !ok {
		return notFound("channel " + name + " not found")
	}
	if _, member := ch.members[nickname]; !member {
		return notFound(nickname + " is not in " + name)
	}
	delete(ch.members, nickname)
	return nil
}

// Ban adds the nickname to the channel's ban list and removes it from the
// members if present (kick-then-ban). Banning an offline user works; the
// channel is created if needed.
func (r *ChannelRegistry) Ban(name, nickname string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := r.getOrCreateLocked(name)
	ch.banned[nickname] = struct{}{}
	delete(ch.members, nickname)
}

// IsBanned reports whether nickname is banned from the channel.
func (r *ChannelRegistry) IsBanned(name, nickname string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[name]
	if !ok {
		return false
	}
	_, banned := ch.banned[nickname]
	return banned
}

// SetTopic updates the channel topic. Any member may set it.
func (r *ChannelRegistry) SetTopic(name, nickname, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[name]
	if !ok {
		return notFound("channel " + name + " not found")
	}
	if _, member := ch.members[nickname]; !member {
		return notFound("you are not in " + name)
	}
	ch.topic = topic
	return nil
}

// Topic returns the channel's current topic.
func (r *ChannelRegistry) Topic(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[name]
	if !ok {
		return "", notFound("channel " + name + " not found")
	}
	return ch.topic, nil
}

// RelabelMember rewrites a member's nickname across the given channels,
// keeping the same session handle. Called under the user registry's rename
// lock scope.
func (r *ChannelRegistry) RelabelMember(names []string, oldNick, newNick string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range names {
		ch, ok := r.channels[name]
		if !ok {
			continue
		}
		if sess, member := ch.members[oldNick]; member {
			delete(ch.members, oldNick)
			ch.members[newNick] = sess
		}
	}
}

// DropMember removes the nickname from each of the given channels. Used on
// deregistration.
func (r *ChannelRegistry) DropMember(names []string, nickname string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range names {
		if ch, ok := r.channels[name]; ok {
			delete(ch.members, nickname)
		}
	}
}

// Publish appends a channel envelope to history and fans it out to every
// member in one atomic step. The sender must be a member. Sessions that
// cannot keep up are marked disconnecting rather than blocking the sender.
func (r *ChannelRegistry) Publish(name string, env proto.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[name]
	if !ok {
		return notFound("channel " + name + " not found")
	}
	if _, member := ch.members[env.Sender]; !member {
		return notFound("you are not in " + name)
	}

	r.appendHistoryLocked(ch, env)
	r.fanOutLocked(ch, env)
	return nil
}

// Notify fans a system envelope out to the channel's members without
// recording it in history. Missing channels are ignored.
func (r *ChannelRegistry) Notify(name string, env proto.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[name]; ok {
		r.fanOutLocked(ch, env)
	}
}

// AppendHistory records an envelope in the channel's bounded history without
// fan-out. The channel is created if needed.
func (r *ChannelRegistry) AppendHistory(name string, env proto.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendHistoryLocked(r.getOrCreateLocked(name), env)
}

func (r *ChannelRegistry) appendHistoryLocked(ch *Channel, env proto.Envelope) {
	if len(ch.history) >= r.historySize {
		copy(ch.history, ch.history[len(ch.history)-r.historySize+1:])
		ch.history = ch.history[:r.historySize-1]
	}
	ch.history = append(ch.history, env)
}

func (r *ChannelRegistry) fanOutLocked(ch *Channel, env proto.Envelope) {
	line := proto.EncodeEnvelope(env)
	for nick, sess := range ch.members {
		if !sess.Push(line) {
			// Slow or dead peer: drop the connection, never block.
			r.log.Warn().Str("channel", ch.name).Str("nickname", nick).Msg("outbound queue full, dropping connection")
			sess.Close()
		}
	}
}

// History returns a copy of the channel's recorded envelopes.
func (r *ChannelRegistry) History(name string) []proto.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[name]
	if !ok {
		return nil
	}
	out := make([]proto.Envelope, len(ch.history))
	copy(out, ch.history)
	return out
}

// ListChannels returns a point-in-time snapshot of all channels, sorted by name.
func (r *ChannelRegistry) ListChannels() []ChannelInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ChannelInfo, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ChannelInfo{Name: ch.name, Topic: ch.topic, Members: len(ch.members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListMembers returns a sorted snapshot of the channel's member nicknames.
func (r *ChannelRegistry) ListMembers(name string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[name]
	if !ok {
		return nil, notFound("channel " + name + " not found")
	}
	return memberNamesLocked(ch), nil
}

func memberNamesLocked(ch *Channel) []string {
	names := make([]string, 0, len(ch.members))
	for nick := range ch.members {
		names = append(names, nick)
	}
	sort.Strings(names)
	return names
}
