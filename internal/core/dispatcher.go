package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/betairc-server/internal/proto"
	"github.com/vovakirdan/betairc-server/internal/store"
)

// Server identity reported in the welcome notice.
const (
	ServerName    = "BetaIRC"
	ServerVersion = "1.0.0"
)

const helpText = "Available commands:\n" +
	"/nick <new_nickname> - change your nickname\n" +
	"/join <channel> - join a channel\n" +
	"/leave [channel] - leave a channel\n" +
	"/list [#channel|users] - list channels, users in a channel, or everyone online\n" +
	"/msg <username> <message> - send a private message\n" +
	"/whois <username> - get information about a user\n" +
	"/topic <channel> [topic] - show or set a channel topic\n" +
	"/kick [#channel] <username> [reason] - remove a user from a channel (admin)\n" +
	"/ban [#channel] <username> [reason] - ban a user from a channel (admin)\n" +
	"/quit [message] - disconnect from the server\n" +
	"/help - show this help message\n" +
	"Any other line is sent to your current channel."

// Dispatcher validates parsed commands against the registries, mutates them,
// and routes the resulting envelopes. It keeps no state of its own between
// invocations; per-connection state lives on the Session.
type Dispatcher struct {
	users    *UserRegistry
	channels *ChannelRegistry
	store    store.Store
	maxLen   int
	log      zerolog.Logger
}

// NewDispatcher wires the dispatcher to its registries. store may be nil, in
// which case bans are not persisted.
func NewDispatcher(users *UserRegistry, channels *ChannelRegistry, st store.Store, maxMessageLen int, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		users:    users,
		channels: channels,
		store:    st,
		maxLen:   maxMessageLen,
		log:      logger,
	}
}

// Dispatch executes one raw client line for an authenticated session and
// returns the response to write back, plus whether the client asked to quit.
// Client-facing failures are folded into the response; they never escape.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *Session, raw string) (proto.Response, bool) {
	cmd, err := proto.DecodeLine(raw)
	if err != nil {
		return d.fail(proto.CodeBadRequest, err.Error()), false
	}

	switch cmd.Verb {
	case proto.VerbSend:
		return d.handleSend(sess, cmd), false
	case proto.VerbNick:
		return d.handleNick(sess, cmd), false
	case proto.VerbJoin:
		return d.handleJoin(sess, cmd), false
	case proto.VerbLeave:
		return d.handleLeave(sess, cmd), false
	case proto.VerbList:
		return d.handleList(sess, cmd), false
	case proto.VerbMsg:
		return d.handleMsg(sess, cmd), false
	case proto.VerbWhois:
		return d.handleWhois(sess, cmd), false
	case proto.VerbTopic:
		return d.handleTopic(sess, cmd), false
	case proto.VerbKick:
		return d.handleKick(sess, cmd), false
	case proto.VerbBan:
		return d.handleBan(ctx, sess, cmd), false
	case proto.VerbHelp:
		d.systemTo(sess, helpText)
		return d.ok("ok"), false
	case proto.VerbQuit:
		return d.ok("goodbye"), true
	default:
		return d.fail(proto.CodeBadRequest, "unknown command"), false
	}
}

// Welcome pushes the post-handshake greeting to a freshly registered session.
func (d *Dispatcher) Welcome(sess *Session) {
	d.systemTo(sess, fmt.Sprintf(
		"Welcome to %s v%s! There are %d users online. Type /help for available commands.",
		ServerName, ServerVersion, d.users.Count()))
}

// Announce sends a server-wide system notice to every connected user.
func (d *Dispatcher) Announce(content string) {
	d.users.Broadcast(proto.Envelope{
		Sender:    proto.SenderSystem,
		Type:      proto.TypeSystem,
		Recipient: proto.RecipientAll,
		Content:   content,
		Timestamp: now(),
	})
}

// Disconnect deregisters the nickname and sends leave notices to every
// channel the user was in. Safe to call for nicknames that are already gone.
func (d *Dispatcher) Disconnect(nickname string) {
	for _, ch := range d.users.Deregister(nickname) {
		d.notice(ch, nickname+" has left the server")
	}
}

func (d *Dispatcher) handleSend(sess *Session, cmd proto.Command) proto.Response {
	if sess.CurrentChannel == "" {
		return d.fail(proto.CodeBadRequest, "you are not in any channel, join a channel first")
	}
	if strings.TrimSpace(cmd.Content) == "" {
		return d.fail(proto.CodeBadRequest, "usage: /send <message>")
	}
	if len(cmd.Content) > d.maxLen {
		return d.fail(proto.CodeBadRequest, fmt.Sprintf("message too long (max %d)", d.maxLen))
	}
	env := proto.Envelope{
		Sender:    sess.Nick,
		Type:      proto.TypeChannel,
		Recipient: sess.CurrentChannel,
		Content:   cmd.Content,
		Timestamp: now(),
	}
	if err := d.channels.Publish(sess.CurrentChannel, env); err != nil {
		return d.respondErr(err)
	}
	return d.ok("sent to " + sess.CurrentChannel)
}

func (d *Dispatcher) handleNick(sess *Session, cmd proto.Command) proto.Response {
	newNick := strings.TrimSpace(cmd.Target)
	if !ValidNickname(newNick) {
		return d.fail(proto.CodeBadRequest, "invalid nickname, use 3-16 alphanumeric characters or underscores")
	}
	oldNick := sess.Nick
	if err := d.users.Rename(oldNick, newNick); err != nil {
		return d.respondErr(err)
	}
	sess.Nick = newNick

	if info, ok := d.users.Lookup(newNick); ok {
		for _, ch := range info.Channels {
			d.notice(ch, oldNick+" is now known as "+newNick)
		}
	}
	return d.ok("nickname changed to " + newNick)
}

func (d *Dispatcher) handleJoin(sess *Session, cmd proto.Command) proto.Response {
	if cmd.Target == "" {
		return d.fail(proto.CodeBadRequest, "usage: /join <channel>")
	}
	name := Normalize(cmd.Target)
	info, err := d.users.JoinChannel(sess.Nick, name)
	if err != nil {
		return d.respondErr(err)
	}
	sess.CurrentChannel = name

	// Backfill the joiner before the join notice reaches them.
	if info.Topic != "" {
		d.systemTo(sess, "Topic for "+name+": "+info.Topic)
	}
	d.systemTo(sess, fmt.Sprintf("Users in %s (%d): %s", name, len(info.Members), strings.Join(info.Members, ", ")))
	for _, env := range info.History {
		sess.Push(proto.EncodeEnvelope(env))
	}

	d.notice(name, sess.Nick+" has joined "+name)
	return d.ok("joined " + name)
}

func (d *Dispatcher) handleLeave(sess *Session, cmd proto.Command) proto.Response {
	name := cmd.Target
	if name == "" {
		name = sess.CurrentChannel
	}
	if name == "" {
		return d.fail(proto.CodeBadRequest, "usage: /leave <channel>")
	}
	name = Normalize(name)
	if err := d.users.LeaveChannel(sess.Nick, name); err != nil {
		return d.respondErr(err)
	}
	if sess.CurrentChannel == name {
		sess.CurrentChannel = ""
	}
	d.notice(name, sess.Nick+" has left "+name)
	return d.ok("left " + name)
}

func (d *Dispatcher) handleList(sess *Session, cmd proto.Command) proto.Response {
	switch {
	case cmd.Target == "" || cmd.Target == "channels":
		infos := d.channels.ListChannels()
		lines := make([]string, 0, len(infos))
		for _, info := range infos {
			line := fmt.Sprintf("%s (%d users)", info.Name, info.Members)
			if info.Topic != "" {
				line += " - " + info.Topic
			}
			lines = append(lines, line)
		}
		d.systemTo(sess, "Available channels:\n"+strings.Join(lines, "\n"))
		return d.ok(fmt.Sprintf("%d channels", len(infos)))

	case !strings.HasPrefix(cmd.Target, "#"):
		// Any non-channel target lists everyone connected.
		infos := d.users.Snapshot()
		names := make([]string, 0, len(infos))
		for _, info := range infos {
			names = append(names, info.Nick)
		}
		d.systemTo(sess, fmt.Sprintf("Connected users (%d): %s", len(names), strings.Join(names, ", ")))
		return d.ok(fmt.Sprintf("%d users", len(names)))

	default:
		members, err := d.channels.ListMembers(cmd.Target)
		if err != nil {
			return d.respondErr(err)
		}
		d.systemTo(sess, fmt.Sprintf("Users in %s (%d): %s", cmd.Target, len(members), strings.Join(members, ", ")))
		return d.ok(fmt.Sprintf("%d members", len(members)))
	}
}

func (d *Dispatcher) handleMsg(sess *Session, cmd proto.Command) proto.Response {
	if cmd.Target == "" || cmd.Content == "" {
		return d.fail(proto.CodeBadRequest, "usage: /msg <username> <message>")
	}
	if len(cmd.Content) > d.maxLen {
		return d.fail(proto.CodeBadRequest, fmt.Sprintf("message too long (max %d)", d.maxLen))
	}
	target, ok := d.users.LookupSession(cmd.Target)
	if !ok {
		return d.fail(proto.CodeNotFound, "unknown user: "+cmd.Target)
	}
	env := proto.Envelope{
		Sender:    sess.Nick,
		Type:      proto.TypePrivate,
		Recipient: cmd.Target,
		Content:   cmd.Content,
		Timestamp: now(),
	}
	if !target.Push(proto.EncodeEnvelope(env)) {
		d.log.Warn().Str("nickname", cmd.Target).Msg("private delivery failed, dropping recipient")
		target.Close()
	}
	return d.ok("message sent to " + cmd.Target)
}

func (d *Dispatcher) handleWhois(sess *Session, cmd proto.Command) proto.Response {
	if cmd.Target == "" {
		return d.fail(proto.CodeBadRequest, "usage: /whois <username>")
	}
	info, ok := d.users.Lookup(cmd.Target)
	if !ok {
		return d.fail(proto.CodeNotFound, "unknown user: "+cmd.Target)
	}
	d.systemTo(sess, fmt.Sprintf("User: %s\nAdmin: %t\nChannels: %s\nConnected since: %s",
		info.Nick, info.IsAdmin, strings.Join(info.Channels, ", "), info.ConnectedAt.Format(time.RFC3339)))
	return d.ok("whois " + info.Nick)
}

func (d *Dispatcher) handleTopic(sess *Session, cmd proto.Command) proto.Response {
	if cmd.Target == "" {
		return d.fail(proto.CodeBadRequest, "usage: /topic <channel> [topic]")
	}
	name := Normalize(cmd.Target)

	if cmd.Content == "" {
		topic, err := d.channels.Topic(name)
		if err != nil {
			return d.respondErr(err)
		}
		if topic == "" {
			topic = "(none)"
		}
		d.systemTo(sess, "Topic for "+name+": "+topic)
		return d.ok("ok")
	}

	if len(cmd.Content) > d.maxLen {
		return d.fail(proto.CodeBadRequest, fmt.Sprintf("topic too long (max %d)", d.maxLen))
	}
	if err := d.channels.SetTopic(name, sess.Nick, cmd.Content); err != nil {
		return d.respondErr(err)
	}
	d.notice(name, sess.Nick+" set the topic to: "+cmd.Content)
	return d.ok("topic updated")
}

func (d *Dispatcher) handleKick(sess *Session, cmd proto.Command) proto.Response {
	if resp, ok := d.requireAdmin(sess); !ok {
		return resp
	}
	channel, target, reason, argErr := d.moderationArgs(sess, cmd, "usage: /kick [#channel] <username> [reason]")
	if argErr != nil {
		return d.respondErr(argErr)
	}
	if err := d.users.KickFrom(channel, target); err != nil {
		return d.respondErr(err)
	}
	if ts, ok := d.users.LookupSession(target); ok {
		d.systemToNick(ts, target, "You were kicked from "+channel+" by "+sess.Nick+withReason(reason))
	}
	d.notice(channel, target+" was kicked from "+channel+" by "+sess.Nick+withReason(reason))
	return d.ok("kicked " + target + " from " + channel)
}

func (d *Dispatcher) handleBan(ctx context.Context, sess *Session, cmd proto.Command) proto.Response {
	if resp, ok := d.requireAdmin(sess); !ok {
		return resp
	}
	channel, target, reason, argErr := d.moderationArgs(sess, cmd, "usage: /ban [#channel] <username> [reason]")
	if argErr != nil {
		return d.respondErr(argErr)
	}
	d.users.BanFrom(channel, target)

	if d.store != nil {
		ban := store.Ban{Channel: channel, Nickname: target, BannedBy: sess.Nick, Reason: reason}
		if err := d.store.SaveBan(ctx, ban); err != nil {
			d.log.Warn().Err(err).Str("channel", channel).Str("nickname", target).Msg("failed to persist ban")
		}
	}

	if ts, ok := d.users.LookupSession(target); ok {
		d.systemToNick(ts, target, "You were banned from "+channel+" by "+sess.Nick+withReason(reason))
	}
	d.notice(channel, target+" was banned from "+channel+" by "+sess.Nick+withReason(reason))
	return d.ok("banned " + target + " from " + channel)
}

// requireAdmin returns the 401 response for non-admin callers.
func (d *Dispatcher) requireAdmin(sess *Session) (proto.Response, bool) {
	info, ok := d.users.Lookup(sess.Nick)
	if !ok || !info.IsAdmin {
		return d.respondErr(unauthorized("you don't have permission to use this command")), false
	}
	return proto.Response{}, true
}

// moderationArgs resolves `[#channel] <username> [reason]` for kick and ban.
// When the channel is omitted the acting admin's current channel is used.
func (d *Dispatcher) moderationArgs(sess *Session, cmd proto.Command, usage string) (channel, target, reason string, err *CoreError) {
	if cmd.Target == "" {
		return "", "", "", badRequest(usage)
	}
	if strings.HasPrefix(cmd.Target, "#") {
		channel = cmd.Target
		target, reason, _ = strings.Cut(cmd.Content, " ")
		reason = strings.TrimSpace(reason)
		if target == "" {
			return "", "", "", badRequest(usage)
		}
		return channel, target, reason, nil
	}
	if sess.CurrentChannel == "" {
		return "", "", "", badRequest("no current channel, name one explicitly: " + usage)
	}
	return sess.CurrentChannel, cmd.Target, cmd.Content, nil
}

// systemTo pushes a system envelope addressed to the session's own nickname.
func (d *Dispatcher) systemTo(sess *Session, content string) {
	d.systemToNick(sess, sess.Nick, content)
}

func (d *Dispatcher) systemToNick(sess *Session, nick, content string) {
	env := proto.Envelope{
		Sender:    proto.SenderSystem,
		Type:      proto.TypeSystem,
		Recipient: nick,
		Content:   content,
		Timestamp: now(),
	}
	if !sess.Push(proto.EncodeEnvelope(env)) {
		sess.Close()
	}
}

// notice fans a system envelope out to a channel's members.
func (d *Dispatcher) notice(channel, content string) {
	d.channels.Notify(channel, proto.Envelope{
		Sender:    proto.SenderSystem,
		Type:      proto.TypeSystem,
		Recipient: channel,
		Content:   content,
		Timestamp: now(),
	})
}

func (d *Dispatcher) ok(msg string) proto.Response {
	return proto.Response{Code: proto.CodeOK, Message: msg, Timestamp: now()}
}

func (d *Dispatcher) fail(code proto.Code, msg string) proto.Response {
	return proto.Response{Code: code, Message: msg, Timestamp: now()}
}

func (d *Dispatcher) respondErr(err error) proto.Response {
	if ce, ok := err.(*CoreError); ok {
		return proto.Response{Code: ce.Code, Message: ce.Message, Timestamp: now()}
	}
	return proto.Response{Code: proto.CodeBadRequest, Message: err.Error(), Timestamp: now()}
}

func withReason(reason string) string {
	if reason == "" {
		return ""
	}
	return " (" + reason + ")"
}

func now() int64 {
	return time.Now().Unix()
}
