package protocol

import (
	"fmt"
	"strings"
)

// Welcome is the first line a session receives.
func Welcome(sessionID string) string {
	return KindWelcome + " " + sessionID
}

// OK acknowledges a request.
func OK(verb Verb, args ...string) string {
	if len(args) == 0 {
		return KindOK + " " + string(verb)
	}
	return KindOK + " " + string(verb) + " " + strings.Join(args, " ")
}

// Err reports a rejected request. The session stays open.
func Err(code, text string) string {
	return fmt.Sprintf("%s %s %s", KindErr, code, text)
}

// RoomJoined tells a member which room it was placed in.
func RoomJoined(roomID string, sceneIndex int, sceneName string, members int) string {
	return fmt.Sprintf("%s %s %d %s %d", KindRoom, roomID, sceneIndex, sceneName, members)
}

// Left tells a member it no longer belongs to roomID.
func Left(roomID string) string {
	return KindLeft + " " + roomID
}

// Status describes a session's queue and room state. A negative scene or
// empty room id renders as "-".
func Status(queuedScene int, roomID string) string {
	q := "-"
	if queuedScene >= 0 {
		q = fmt.Sprintf("%d", queuedScene)
	}
	r := "-"
	if roomID != "" {
		r = roomID
	}
	return fmt.Sprintf("%s queued=%s room=%s", KindStatus, q, r)
}

// Pong answers PING.
func Pong() string { return KindPong }

// Bye answers QUIT before the server closes the connection.
func Bye() string { return KindBye }

// ServerLine is a parsed line sent by the server.
type ServerLine struct {
	Kind string
	Args []string
	// Envelope is set when Kind is MSG.
	Envelope *Envelope
}

// ParseServerLine splits a server line into its kind and arguments. MSG lines
// are decoded into an Envelope; ERR lines keep the code and the text as two args.
func ParseServerLine(line string) (ServerLine, error) {
	line = strings.TrimRight(line, "\r\n")
	head, rest := cut(line)
	if head == "" {
		return ServerLine{}, fmt.Errorf("%w: empty server line", ErrMalformed)
	}

	switch head {
	case KindMsg:
		env, err := parseEnvelopeFields(rest)
		if err != nil {
			return ServerLine{}, err
		}
		return ServerLine{Kind: head, Envelope: &env}, nil
	case KindErr:
		code, text := cut(rest)
		return ServerLine{Kind: head, Args: []string{code, text}}, nil
	default:
		return ServerLine{Kind: head, Args: strings.Fields(rest)}, nil
	}
}
