// Package protocol defines the line-oriented text protocol spoken between
// clients and the matchmaking server: request parsing, the broadcast
// envelope, and server reply formatting.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Verb names a client request.
type Verb string

// Client request verbs.
const (
	VerbQueue   Verb = "QUEUE"
	VerbDequeue Verb = "DEQUEUE"
	VerbSay     Verb = "SAY"
	VerbTell    Verb = "TELL"
	VerbLeave   Verb = "LEAVE"
	VerbStatus  Verb = "STATUS"
	VerbPing    Verb = "PING"
	VerbQuit    Verb = "QUIT"
)

// Server line kinds.
const (
	KindWelcome = "WELCOME"
	KindOK      = "OK"
	KindErr     = "ERR"
	KindRoom    = "ROOM"
	KindLeft    = "LEFT"
	KindMsg     = "MSG"
	KindStatus  = "STATUS"
	KindPong    = "PONG"
	KindBye     = "BYE"
)

// Error codes carried by ERR lines.
const (
	CodeBadRequest    = "bad_request"
	CodeUnknownVerb   = "unknown_verb"
	CodeUnknownScene  = "unknown_scene"
	CodeAlreadyQueued = "already_queued"
	CodeNotQueued     = "not_queued"
	CodeInRoom        = "in_room"
	CodeNotInRoom     = "not_in_room"
	CodeRoomBusy      = "room_busy"
)

var (
	// ErrMalformed is returned for lines that cannot be parsed.
	ErrMalformed = errors.New("malformed line")
	// ErrUnknownVerb is returned for requests with an unrecognised verb.
	ErrUnknownVerb = errors.New("unknown verb")
)

// Receiver selects which room members receive an envelope.
// The zero value addresses every member.
type Receiver struct {
	SessionID string
}

// ToAll addresses every member of the room.
func ToAll() Receiver { return Receiver{} }

// ToSession addresses a single member by session id.
func ToSession(id string) Receiver { return Receiver{SessionID: id} }

// All reports whether r addresses every member.
func (r Receiver) All() bool { return r.SessionID == "" }

// Matches reports whether the member with the given session id is addressed.
func (r Receiver) Matches(sessionID string) bool {
	return r.All() || r.SessionID == sessionID
}

// Envelope is the unit of room broadcast.
type Envelope struct {
	Name     string
	Code     int
	Payload  string
	Receiver Receiver
}

// Line renders the envelope as delivered to a client. The receiver is not sent.
func (e Envelope) Line() string {
	if e.Payload == "" {
		return fmt.Sprintf("%s %s %d", KindMsg, e.Name, e.Code)
	}
	return fmt.Sprintf("%s %s %d %s", KindMsg, e.Name, e.Code, e.Payload)
}

// Request is a parsed client line.
type Request struct {
	Verb Verb
	// Scene is set for QUEUE and DEQUEUE.
	Scene int
	// Envelope is set for SAY and TELL.
	Envelope Envelope
}

// Line renders the request in wire form, without a terminator.
func (r Request) Line() string {
	switch r.Verb {
	case VerbQueue, VerbDequeue:
		return fmt.Sprintf("%s %d", r.Verb, r.Scene)
	case VerbSay:
		return strings.TrimRight(fmt.Sprintf("%s %s %d %s", r.Verb, r.Envelope.Name, r.Envelope.Code, r.Envelope.Payload), " ")
	case VerbTell:
		return strings.TrimRight(fmt.Sprintf("%s %s %s %d %s", r.Verb, r.Envelope.Receiver.SessionID, r.Envelope.Name, r.Envelope.Code, r.Envelope.Payload), " ")
	default:
		return string(r.Verb)
	}
}

// ParseRequest parses one client line. Verbs are case-insensitive; the
// payload of SAY and TELL is the remainder of the line after the code.
//
// Postcondition: Returns a Request, or an error wrapping ErrMalformed or ErrUnknownVerb.
func ParseRequest(line string) (Request, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Request{}, fmt.Errorf("%w: empty line", ErrMalformed)
	}

	head, rest := cut(line)
	verb := Verb(strings.ToUpper(head))

	switch verb {
	case VerbQueue, VerbDequeue:
		arg, extra := cut(rest)
		if arg == "" || extra != "" {
			return Request{}, fmt.Errorf("%w: %s takes exactly one scene index", ErrMalformed, verb)
		}
		idx, err := strconv.Atoi(arg)
		if err != nil {
			return Request{}, fmt.Errorf("%w: scene index %q: %v", ErrMalformed, arg, err)
		}
		return Request{Verb: verb, Scene: idx}, nil

	case VerbSay:
		env, err := parseEnvelopeFields(rest)
		if err != nil {
			return Request{}, err
		}
		return Request{Verb: verb, Envelope: env}, nil

	case VerbTell:
		target, remainder := cut(rest)
		if target == "" {
			return Request{}, fmt.Errorf("%w: TELL requires a session id", ErrMalformed)
		}
		env, err := parseEnvelopeFields(remainder)
		if err != nil {
			return Request{}, err
		}
		env.Receiver = ToSession(target)
		return Request{Verb: verb, Envelope: env}, nil

	case VerbLeave, VerbStatus, VerbPing, VerbQuit:
		if rest != "" {
			return Request{}, fmt.Errorf("%w: %s takes no arguments", ErrMalformed, verb)
		}
		return Request{Verb: verb}, nil

	default:
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownVerb, head)
	}
}

// ParseEnvelope parses a MSG line as written by Envelope.Line.
func ParseEnvelope(line string) (Envelope, error) {
	head, rest := cut(strings.TrimRight(line, "\r\n"))
	if head != KindMsg {
		return Envelope{}, fmt.Errorf("%w: not a %s line", ErrMalformed, KindMsg)
	}
	return parseEnvelopeFields(rest)
}

func parseEnvelopeFields(s string) (Envelope, error) {
	name, rest := cut(s)
	codeStr, payload := cut(rest)
	if name == "" || codeStr == "" {
		return Envelope{}, fmt.Errorf("%w: envelope requires a name and a code", ErrMalformed)
	}
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: envelope code %q: %v", ErrMalformed, codeStr, err)
	}
	return Envelope{Name: name, Code: code, Payload: payload}, nil
}

// cut splits s at the first run of spaces.
func cut(s string) (head, rest string) {
	s = strings.TrimLeft(s, " ")
	head, rest, _ = strings.Cut(s, " ")
	return head, strings.TrimLeft(rest, " ")
}
