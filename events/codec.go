package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is the persisted, self-describing form of an event: the header
// columns plus the full JSON document (discriminant, header and payload).
type Record struct {
	EventID   string
	GameID    string
	Type      Type
	Timestamp time.Time
	Data      []byte
}

// Marshal encodes an event as a flat JSON object carrying its discriminant
// under "event_type".
func Marshal(evt Event) ([]byte, error) {
	if evt == nil {
		return nil, fmt.Errorf("marshal event: nil event")
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", evt.EventType(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("marshal %s: %w", evt.EventType(), err)
	}
	discriminant, _ := json.Marshal(evt.EventType())
	fields["event_type"] = discriminant
	return json.Marshal(fields)
}

// Unmarshal decodes a JSON event document. Unknown fields are ignored so
// that records written by newer versions still decode.
func Unmarshal(data []byte) (Event, error) {
	var head struct {
		EventType Type `json:"event_type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	switch head.EventType {
	case TypeGameCreated:
		return decode[GameCreated](data)
	case TypeGameStarted:
		return decode[GameStarted](data)
	case TypePlayerJoined:
		return decode[PlayerJoined](data)
	case TypePlayerReconnected:
		return decode[PlayerReconnected](data)
	case TypePlayerLeft:
		return decode[PlayerLeft](data)
	case TypeTeamFormed:
		return decode[TeamFormed](data)
	case TypeTeamDisbanded:
		return decode[TeamDisbanded](data)
	case TypePlayerJoinedTeam:
		return decode[PlayerJoinedTeam](data)
	case TypePersonalityAssigned:
		return decode[PersonalityAssigned](data)
	case TypeRoundStarted:
		return decode[RoundStarted](data)
	case TypePromptSubmitted:
		return decode[PromptSubmitted](data)
	case TypeScriptGenerated:
		return decode[ScriptGenerated](data)
	case TypeRoleAssigned:
		return decode[RoleAssigned](data)
	case TypeGuessSubmitted:
		return decode[GuessSubmitted](data)
	case TypeGuessAccepted:
		return decode[GuessAccepted](data)
	case TypePersonalityGuessSubmitted:
		return decode[PersonalityGuessSubmitted](data)
	case TypeScoresUpdated:
		return decode[ScoresUpdated](data)
	case TypeRoundCompleted:
		return decode[RoundCompleted](data)
	case TypeGameCompleted:
		return decode[GameCompleted](data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, head.EventType)
}

func decode[T Event](data []byte) (Event, error) {
	var evt T
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", evt.EventType(), err)
	}
	if err := evt.Header().validate(); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", evt.EventType(), err)
	}
	return evt, nil
}

// ToRecord encodes an event for storage.
func ToRecord(evt Event) (Record, error) {
	meta := evt.Header()
	if err := meta.validate(); err != nil {
		return Record{}, fmt.Errorf("%s: %w", evt.EventType(), err)
	}
	data, err := Marshal(evt)
	if err != nil {
		return Record{}, err
	}
	return Record{
		EventID:   meta.EventID,
		GameID:    meta.GameID,
		Type:      evt.EventType(),
		Timestamp: meta.Timestamp.UTC(),
		Data:      data,
	}, nil
}

// FromRecord decodes a stored record.
func FromRecord(r Record) (Event, error) {
	return Unmarshal(r.Data)
}
