package server

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/slopgame/slop/game"
	"github.com/slopgame/slop/logger"
	"github.com/slopgame/slop/models"
	"github.com/slopgame/slop/network"
	"github.com/slopgame/slop/session"
)

type createGamePayload struct {
	Name     string               `json:"name"`
	Settings *models.GameSettings `json:"settings,omitempty"`
}

type joinGamePayload struct {
	RoomCode string `json:"room_code"`
	Name     string `json:"name"`
}

type reconnectPayload struct {
	Token string `json:"token"`
}

type formTeamPayload struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type teamPayload struct {
	TeamID string `json:"team_id"`
}

type assignPersonalityPayload struct {
	TeamID        string `json:"team_id"`
	PersonalityID string `json:"personality_id"`
}

type promptPayload struct {
	Prompt string `json:"prompt"`
}

type guessPayload struct {
	Guess string `json:"guess"`
}

type personalityGuessPayload struct {
	PersonalityID string `json:"personality_id"`
}

func (s *GameServer) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	wsConn := network.NewWSConnection(conn)
	wsConn.SetHeartbeat(s.heartbeat)
	s.handleConnection(c.Request.Context(), session.NewSession(uuid.NewString(), wsConn))
}

func (s *GameServer) handleConnection(ctx context.Context, sess *session.Session) {
	s.sessions.Add(sess)
	s.metrics.IncOnlineSockets()
	logger.Log.Infof("New connection from %s, session ID: %s", sess.Conn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", sess.Conn.RemoteAddr(), sess.GetID())
		s.hub.LeaveAll(sess.GetID())
		s.sessions.Remove(sess.GetID())
		s.metrics.DecOnlineSockets()
		_ = sess.Close()
	}()

	for {
		frame, err := sess.Conn.ReadFrame()
		if err != nil {
			var malformed *network.MalformedFrameError
			if errors.As(err, &malformed) {
				s.sendError(sess, game.Wrap(game.CodeInvalidInput, err, "malformed frame"))
				continue
			}
			return
		}
		sess.Touch()
		s.dispatch(ctx, sess, frame)
	}
}

// dispatch routes one intent. Errors go back to the sending socket only.
func (s *GameServer) dispatch(ctx context.Context, sess *session.Session, f network.Frame) {
	switch f.Type {
	case network.MsgHeartbeat:
		return
	case network.MsgCreateGame:
		var p createGamePayload
		if s.decode(sess, f, &p) {
			var settings models.GameSettings
			if p.Settings != nil {
				settings = *p.Settings
			}
			w, err := s.games.CreateGame(ctx, settings, p.Name, sess.GetID())
			s.bind(sess, w, err)
		}
		return
	case network.MsgJoinGame:
		var p joinGamePayload
		if s.decode(sess, f, &p) {
			w, err := s.games.JoinGame(ctx, p.RoomCode, p.Name, sess.GetID())
			s.bind(sess, w, err)
		}
		return
	case network.MsgReconnect:
		var p reconnectPayload
		if s.decode(sess, f, &p) {
			w, err := s.games.Reconnect(ctx, p.Token, sess.GetID())
			if err == nil {
				s.detachOthers(sess, w.GameID, w.PlayerID)
			}
			s.bind(sess, w, err)
		}
		return
	}

	gameID, _, playerID, ok := sess.Binding()
	if !ok {
		s.sendError(sess, game.Reject(game.CodeUnauthorized, "join a game before sending %s", f.Type))
		return
	}

	var err error
	switch f.Type {
	case network.MsgLeaveGame:
		if err = s.games.LeaveGame(ctx, gameID, playerID, sess.GetID()); err == nil {
			sess.Unbind()
		}
	case network.MsgFormTeam:
		var p formTeamPayload
		if s.decode(sess, f, &p) {
			_, err = s.games.FormTeam(ctx, gameID, playerID, p.Name, p.Color)
		}
	case network.MsgJoinTeam:
		var p teamPayload
		if s.decode(sess, f, &p) {
			err = s.games.JoinTeam(ctx, gameID, playerID, p.TeamID)
		}
	case network.MsgRemoveTeam:
		var p teamPayload
		if s.decode(sess, f, &p) {
			err = s.games.RemoveTeam(ctx, gameID, playerID, p.TeamID)
		}
	case network.MsgStartGame:
		err = s.games.StartGame(ctx, gameID, playerID)
	case network.MsgAssignPersonality:
		var p assignPersonalityPayload
		if s.decode(sess, f, &p) {
			err = s.games.AssignPersonality(ctx, gameID, playerID, p.TeamID, p.PersonalityID)
		}
	case network.MsgStartRound:
		err = s.games.StartRound(ctx, gameID, playerID)
	case network.MsgSubmitPrompt:
		var p promptPayload
		if s.decode(sess, f, &p) {
			err = s.games.SubmitPrompt(ctx, gameID, playerID, p.Prompt)
		}
	case network.MsgRequestScript:
		// Generation can take seconds; keep reading heartbeats meanwhile.
		go func() {
			if err := s.games.RequestScript(context.WithoutCancel(ctx), gameID, playerID); err != nil {
				s.sendError(sess, err)
			}
		}()
	case network.MsgAssignRoles:
		err = s.games.AssignRoles(ctx, gameID, playerID)
	case network.MsgSubmitGuess:
		var p guessPayload
		if s.decode(sess, f, &p) {
			err = s.games.SubmitGuess(ctx, gameID, playerID, p.Guess)
		}
	case network.MsgAcceptGuess:
		var p teamPayload
		if s.decode(sess, f, &p) {
			err = s.games.AcceptGuess(ctx, gameID, playerID, p.TeamID)
		}
	case network.MsgSubmitPersonalityGuess:
		var p personalityGuessPayload
		if s.decode(sess, f, &p) {
			err = s.games.SubmitPersonalityGuess(ctx, gameID, playerID, p.PersonalityID)
		}
	case network.MsgScoreRound:
		err = s.games.ScoreRound(ctx, gameID, playerID)
	case network.MsgAdvance:
		err = s.games.AdvanceOrFinish(ctx, gameID, playerID)
	default:
		err = game.Reject(game.CodeInvalidInput, "unknown message type %q", f.Type)
	}
	if err != nil {
		s.sendError(sess, err)
	}
}

func (s *GameServer) decode(sess *session.Session, f network.Frame, v any) bool {
	if err := f.Decode(v); err != nil {
		s.sendError(sess, game.Wrap(game.CodeInvalidInput, err, "invalid payload"))
		return false
	}
	return true
}

func (s *GameServer) bind(sess *session.Session, w network.Welcome, err error) {
	if err != nil {
		s.sendError(sess, err)
		return
	}
	sess.Bind(w.GameID, w.RoomCode, w.PlayerID)
	s.send(sess, network.MsgWelcome, w)
}

// detachOthers stops older sockets of a reconnecting player from receiving
// room traffic.
func (s *GameServer) detachOthers(sess *session.Session, gameID, playerID string) {
	for _, old := range s.sessions.GetByPlayer(gameID, playerID) {
		if old.GetID() == sess.GetID() {
			continue
		}
		s.hub.LeaveAll(old.GetID())
		old.Unbind()
	}
}

func (s *GameServer) sendError(sess *session.Session, err error) {
	code := game.CodeOf(err)
	if code == game.CodeInternal || code == game.CodeStorageUnavailable {
		logger.Log.Errorw("command failed", "session_id", sess.GetID(), "code", code, "error", err)
	}
	s.send(sess, network.MsgError, network.ErrorPayload{Code: string(code), Message: err.Error()})
}

func (s *GameServer) send(sess *session.Session, typ string, v any) {
	f, err := network.NewFrame(typ, v)
	if err != nil {
		logger.Log.Errorw("encode frame", "type", typ, "error", err)
		return
	}
	if err := sess.Send(f); err != nil {
		logger.Log.Debugw("send to socket failed", "session_id", sess.GetID(), "error", err)
	}
}
