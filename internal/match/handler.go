package match

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/matchrelay/internal/protocol"
)

// readLoop reads requests from sess until it closes, quits or fails.
func (s *Server) readLoop(sess *Session) {
	defer s.conns.Done()

	for {
		line, err := sess.conn.ReadLine()
		if err != nil {
			if !sess.Closed() {
				s.NotifySessionFailed(sess, &ConnectionError{SessionID: sess.ID(), Op: "read", Err: err})
			}
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !s.dispatch(sess, line) {
			return
		}
	}
}

// dispatch handles one request line.
//
// Postcondition: Returns false when the session must stop reading.
func (s *Server) dispatch(sess *Session, line string) bool {
	req, err := protocol.ParseRequest(line)
	if err != nil {
		code := protocol.CodeBadRequest
		if errors.Is(err, protocol.ErrUnknownVerb) {
			code = protocol.CodeUnknownVerb
		}
		return s.reply(sess, protocol.Err(code, err.Error()))
	}
	sess.received.Add(1)

	switch req.Verb {
	case protocol.VerbQueue:
		return s.handleQueue(sess, req.Scene)
	case protocol.VerbDequeue:
		if !s.QueueEnd(sess, req.Scene) {
			return s.reply(sess, protocol.Err(protocol.CodeNotQueued, fmt.Sprintf("not queued for scene %d", req.Scene)))
		}
		return s.reply(sess, protocol.OK(protocol.VerbDequeue, strconv.Itoa(req.Scene)))
	case protocol.VerbSay, protocol.VerbTell:
		return s.handlePublish(sess, req)
	case protocol.VerbLeave:
		if !s.LeaveRoom(sess) {
			return s.reply(sess, protocol.Err(protocol.CodeNotInRoom, "not in a room"))
		}
		return s.reply(sess, protocol.OK(protocol.VerbLeave))
	case protocol.VerbStatus:
		queued, ok := s.queue.SceneOf(sess)
		if !ok {
			queued = -1
		}
		roomID := ""
		if room := sess.Room(); room != nil {
			roomID = room.ID()
		}
		return s.reply(sess, protocol.Status(queued, roomID))
	case protocol.VerbPing:
		return s.reply(sess, protocol.Pong())
	case protocol.VerbQuit:
		if err := sess.writeNow(protocol.Bye()); err != nil {
			s.logger.Debug("writing goodbye", zap.String("session", sess.ID()), zap.Error(err))
		}
		if s.purge(sess, ReasonQuit) {
			s.logger.Info("client quit", zap.String("session", sess.ID()))
		}
		return false
	}
	return true
}

func (s *Server) handleQueue(sess *Session, sceneIndex int) bool {
	if _, ok := s.catalog.Get(sceneIndex); !ok {
		return s.reply(sess, protocol.Err(protocol.CodeUnknownScene, fmt.Sprintf("no scene %d", sceneIndex)))
	}
	if !s.QueueStart(sess, sceneIndex) {
		if sess.Room() != nil {
			return s.reply(sess, protocol.Err(protocol.CodeInRoom, "already in a room"))
		}
		return s.reply(sess, protocol.Err(protocol.CodeAlreadyQueued, "already queued"))
	}
	return s.reply(sess, protocol.OK(protocol.VerbQueue, strconv.Itoa(sceneIndex)))
}

func (s *Server) handlePublish(sess *Session, req protocol.Request) bool {
	room := sess.Room()
	if room == nil {
		return s.reply(sess, protocol.Err(protocol.CodeNotInRoom, "not in a room"))
	}
	if to := req.Envelope.Receiver; !to.All() && !room.Has(to.SessionID) {
		return s.reply(sess, protocol.Err(protocol.CodeNotInRoom, fmt.Sprintf("%s is not in this room", to.SessionID)))
	}
	switch err := room.Publish(req.Envelope); {
	case errors.Is(err, ErrRoomBusy):
		return s.reply(sess, protocol.Err(protocol.CodeRoomBusy, "room is busy, retry"))
	case errors.Is(err, ErrRoomClosed):
		return s.reply(sess, protocol.Err(protocol.CodeNotInRoom, "room closed"))
	}
	return s.reply(sess, protocol.OK(req.Verb))
}

// reply pushes line to sess and fails the session if it cannot keep up.
func (s *Server) reply(sess *Session, line string) bool {
	if err := sess.Push(line); err != nil {
		if !errors.Is(err, ErrSessionClosed) {
			s.NotifySessionFailed(sess, err)
		}
		return false
	}
	return true
}
