package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseRequest_Queue(t *testing.T) {
	req, err := ParseRequest("QUEUE 3")
	require.NoError(t, err)
	assert.Equal(t, VerbQueue, req.Verb)
	assert.Equal(t, 3, req.Scene)
}

func TestParseRequest_CaseInsensitive(t *testing.T) {
	req, err := ParseRequest("  dequeue   1\r\n")
	require.NoError(t, err)
	assert.Equal(t, VerbDequeue, req.Verb)
	assert.Equal(t, 1, req.Scene)
}

func TestParseRequest_QueueBadIndex(t *testing.T) {
	_, err := ParseRequest("QUEUE abc")
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = ParseRequest("QUEUE")
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = ParseRequest("QUEUE 1 2")
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestParseRequest_Say(t *testing.T) {
	req, err := ParseRequest("SAY Move 12 x=3 y=4")
	require.NoError(t, err)
	assert.Equal(t, VerbSay, req.Verb)
	assert.Equal(t, Envelope{Name: "Move", Code: 12, Payload: "x=3 y=4"}, req.Envelope)
	assert.True(t, req.Envelope.Receiver.All())
}

func TestParseRequest_SayWithoutPayload(t *testing.T) {
	req, err := ParseRequest("SAY Ready 1")
	require.NoError(t, err)
	assert.Equal(t, "", req.Envelope.Payload)
}

func TestParseRequest_SayMissingCode(t *testing.T) {
	_, err := ParseRequest("SAY Move")
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = ParseRequest("SAY Move twelve")
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestParseRequest_Tell(t *testing.T) {
	req, err := ParseRequest("TELL abc-123 Hint 5 go left")
	require.NoError(t, err)
	assert.Equal(t, VerbTell, req.Verb)
	assert.Equal(t, "abc-123", req.Envelope.Receiver.SessionID)
	assert.False(t, req.Envelope.Receiver.All())
	assert.Equal(t, "go left", req.Envelope.Payload)
}

func TestParseRequest_NoArgVerbs(t *testing.T) {
	for _, line := range []string{"LEAVE", "status", "Ping", "QUIT"} {
		_, err := ParseRequest(line)
		assert.NoError(t, err, line)
	}
	_, err := ParseRequest("PING now")
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestParseRequest_UnknownVerb(t *testing.T) {
	_, err := ParseRequest("DANCE")
	assert.True(t, errors.Is(err, ErrUnknownVerb))
}

func TestParseRequest_Empty(t *testing.T) {
	_, err := ParseRequest("   ")
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestEnvelopeLine(t *testing.T) {
	env := Envelope{Name: "TestBroadcast", Code: 27, Payload: "Hello there sir."}
	assert.Equal(t, "MSG TestBroadcast 27 Hello there sir.", env.Line())
	assert.Equal(t, "MSG Ready 1", Envelope{Name: "Ready", Code: 1}.Line())
}

func TestReceiverMatches(t *testing.T) {
	assert.True(t, ToAll().Matches("anyone"))
	assert.True(t, ToSession("a").Matches("a"))
	assert.False(t, ToSession("a").Matches("b"))
}

func TestParseServerLine(t *testing.T) {
	sl, err := ParseServerLine("ROOM r1 2 duel 2\r\n")
	require.NoError(t, err)
	assert.Equal(t, KindRoom, sl.Kind)
	assert.Equal(t, []string{"r1", "2", "duel", "2"}, sl.Args)

	sl, err = ParseServerLine(Err(CodeNotQueued, "no entry for scene 1"))
	require.NoError(t, err)
	assert.Equal(t, KindErr, sl.Kind)
	assert.Equal(t, []string{CodeNotQueued, "no entry for scene 1"}, sl.Args)

	sl, err = ParseServerLine("MSG Move 4 up")
	require.NoError(t, err)
	require.NotNil(t, sl.Envelope)
	assert.Equal(t, "up", sl.Envelope.Payload)
}

func TestStatusLine(t *testing.T) {
	assert.Equal(t, "STATUS queued=- room=-", Status(-1, ""))
	assert.Equal(t, "STATUS queued=2 room=-", Status(2, ""))
	assert.Equal(t, "STATUS queued=- room=r1", Status(-1, "r1"))
}

// Property: any request the client library renders is parsed back to the same request.
func TestPropertyRequestLineParses(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		token := rapid.StringMatching(`[A-Za-z][A-Za-z0-9_-]{0,15}`)
		verb := rapid.SampledFrom([]Verb{VerbQueue, VerbDequeue, VerbSay, VerbTell, VerbLeave, VerbPing}).Draw(t, "verb")

		req := Request{Verb: verb}
		switch verb {
		case VerbQueue, VerbDequeue:
			req.Scene = rapid.IntRange(0, 1000).Draw(t, "scene")
		case VerbSay, VerbTell:
			req.Envelope = Envelope{
				Name:    token.Draw(t, "name"),
				Code:    rapid.IntRange(-1000, 1000).Draw(t, "code"),
				Payload: rapid.StringMatching(`([A-Za-z0-9=.,!?]+( [A-Za-z0-9=.,!?]+)*)?`).Draw(t, "payload"),
			}
			if verb == VerbTell {
				req.Envelope.Receiver = ToSession(token.Draw(t, "target"))
			}
		}

		got, err := ParseRequest(req.Line())
		if err != nil {
			t.Fatalf("ParseRequest(%q): %v", req.Line(), err)
		}
		if got != req {
			t.Fatalf("ParseRequest(%q) = %+v, want %+v", req.Line(), got, req)
		}
	})
}
