package tcp

import "proxysync/internal/text"

type Message struct {
	Type string         `json:"type"` // basic routing based on type field
	Data map[string]any `json:"data"` // flexible data payload
}

// inbound frame types
const (
	TypeLogin    = "login"
	TypeChat     = "chat"
	TypeTeamChat = "team_chat"
	TypePrivate  = "msg"
	TypeServer   = "server"
)

// outbound frame types
const (
	TypeDisconnect = "disconnect"
	TypeTransfer   = "transfer"
	TypeSystem     = "system"
	TypeError      = "error"
)

func textFrame(typ, key string, c text.Component) Message {
	return Message{Type: typ, Data: map[string]any{
		key:        c.Plain(),
		"segments": c.Segments,
	}}
}

func systemFrame(msg string) Message {
	return Message{Type: TypeSystem, Data: map[string]any{"message": msg}}
}

func errorFrame(msg string) Message {
	return Message{Type: TypeError, Data: map[string]any{"message": msg}}
}

func transferFrame(server string) Message {
	return Message{Type: TypeTransfer, Data: map[string]any{"server": server}}
}

// stringField reads a string value from a frame payload.
func stringField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}
