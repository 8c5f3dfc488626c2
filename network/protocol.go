package network

import (
	"encoding/json"
	"fmt"
)

// Client to server intents.
const (
	MsgHeartbeat              = "heartbeat"
	MsgCreateGame             = "create_game"
	MsgJoinGame               = "join_game"
	MsgReconnect              = "reconnect"
	MsgLeaveGame              = "leave_game"
	MsgFormTeam               = "form_team"
	MsgJoinTeam               = "join_team"
	MsgRemoveTeam             = "remove_team"
	MsgStartGame              = "start_game"
	MsgAssignPersonality      = "assign_personality"
	MsgStartRound             = "start_round"
	MsgSubmitPrompt           = "submit_prompt"
	MsgRequestScript          = "request_script"
	MsgAssignRoles            = "assign_roles"
	MsgSubmitGuess            = "submit_guess"
	MsgAcceptGuess            = "accept_guess"
	MsgSubmitPersonalityGuess = "submit_personality_guess"
	MsgScoreRound             = "score_round"
	MsgAdvance                = "advance"
)

// Server to client messages.
const (
	MsgEvent    = "event"
	MsgError    = "error"
	MsgWelcome  = "welcome"
	MsgSnapshot = "snapshot"
)

// Frame is one websocket text message.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewFrame encodes v as the frame payload. A nil v leaves Data empty.
func NewFrame(typ string, v any) (Frame, error) {
	f := Frame{Type: typ}
	if v == nil {
		return f, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		f.Data = raw
		return f, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s frame: %w", typ, err)
	}
	f.Data = data
	return f, nil
}

// Decode unmarshals the payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s frame has no data", f.Type)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s frame: %w", f.Type, err)
	}
	return nil
}

// ErrorPayload is the data of an error frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Welcome is sent to a socket once it is bound to a player.
type Welcome struct {
	GameID   string `json:"game_id"`
	PlayerID string `json:"player_id"`
	RoomCode string `json:"room_code"`
	Token    string `json:"token"`
}
