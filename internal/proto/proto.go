// Package proto defines the wire protocol: the JSON envelope and response
// shapes pushed to clients, and the slash-command syntax read from them.
package proto

import (
	"encoding/json"
	"strings"
)

// Envelope is one routed chat message unit. Timestamps are assigned by the
// server at dispatch time and never trusted from the client.
type Envelope struct {
	Sender    string `json:"sender"`
	Type      string `json:"type"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Envelope types.
const (
	TypeChannel = "channel"
	TypePrivate = "private"
	TypeSystem  = "system"
)

// SenderSystem is the sender used for server-generated notices.
const SenderSystem = "system"

// RecipientAll addresses every connected client.
const RecipientAll = "all"

// Code is a protocol response code.
type Code string

const (
	CodeOK           Code = "200"
	CodeBadRequest   Code = "400"
	CodeUnauthorized Code = "401"
	CodeForbidden    Code = "403"
	CodeNotFound     Code = "404"
)

// Response is the server's reply to a single client command.
type Response struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Verb identifies a client command.
type Verb int

const (
	// VerbSend is the implicit command for lines without a leading slash.
	VerbSend Verb = iota
	VerbNick
	VerbJoin
	VerbLeave
	VerbList
	VerbMsg
	VerbWhois
	VerbKick
	VerbBan
	VerbTopic
	VerbQuit
	VerbHelp
)

var verbs = map[string]Verb{
	"SEND":  VerbSend,
	"NICK":  VerbNick,
	"JOIN":  VerbJoin,
	"LEAVE": VerbLeave,
	"LIST":  VerbList,
	"MSG":   VerbMsg,
	"WHOIS": VerbWhois,
	"KICK":  VerbKick,
	"BAN":   VerbBan,
	"TOPIC": VerbTopic,
	"QUIT":  VerbQuit,
	"HELP":  VerbHelp,
}

// Command is one parsed client command.
type Command struct {
	Verb    Verb
	Target  string
	Content string
}

// ParseReason classifies why a line failed to parse.
type ParseReason int

const (
	ReasonEmptyCommand ParseReason = iota
	ReasonUnknownVerb
)

// ParseError reports a malformed command line.
type ParseError struct {
	Reason ParseReason
	Verb   string
}

func (e *ParseError) Error() string {
	if e.Reason == ReasonEmptyCommand {
		return "empty command"
	}
	return "unknown command: " + e.Verb
}

// DecodeLine parses one raw client line. A line beginning with "/" is a
// command: the first token (case-insensitive) is the verb, the second the
// target, the rest the content verbatim. SEND has no target; its whole
// remainder is content, so "/SEND hi there" and "hi there" are the same
// command. Any other non-empty line is an implicit SEND against the caller's
// current channel.
func DecodeLine(raw string) (Command, error) {
	raw = strings.TrimRight(raw, "\r\n")
	if !strings.HasPrefix(raw, "/") {
		if strings.TrimSpace(raw) == "" {
			return Command{}, &ParseError{Reason: ReasonEmptyCommand}
		}
		return Command{Verb: VerbSend, Content: raw}, nil
	}

	name, rest := splitToken(raw[1:])
	if name == "" {
		return Command{}, &ParseError{Reason: ReasonEmptyCommand}
	}
	verb, ok := verbs[strings.ToUpper(name)]
	if !ok {
		return Command{}, &ParseError{Reason: ReasonUnknownVerb, Verb: name}
	}
	if verb == VerbSend {
		return Command{Verb: VerbSend, Content: rest}, nil
	}

	target, content := splitToken(rest)
	return Command{Verb: verb, Target: target, Content: content}, nil
}

// splitToken returns the first whitespace-delimited token of s and the
// remainder with leading whitespace removed.
func splitToken(s string) (string, string) {
	s = strings.TrimLeft(s, " \t")
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimLeft(s[i:], " \t")
	}
	return s, ""
}

// EncodeEnvelope serializes an envelope as one newline-terminated JSON line.
// Encoding cannot fail for well-formed envelopes.
func EncodeEnvelope(env Envelope) []byte {
	data, _ := json.Marshal(env)
	return append(data, '\n')
}

// DecodeEnvelope parses one envelope line produced by EncodeEnvelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}

// EncodeResponse serializes a command response as one newline-terminated JSON line.
func EncodeResponse(resp Response) []byte {
	data, _ := json.Marshal(resp)
	return append(data, '\n')
}
