package protocol

// Kind identifies one variant of the cross-instance message set.
// The set is closed: adding a kind means adding a constant here, a row in
// kindSpecs, a struct below and a case in every exhaustive switch.
type Kind int

const (
	KindKick Kind = iota + 1
	KindKickByName
	KindSendAll
	KindPlayerConnect
	KindSendPlayer
	KindMuteApplied
	KindPrivateMessage
	KindBroadcast
	KindTeamChat
)

// wire tag and minimum field count for each kind
type kindSpec struct {
	tag       string
	minFields int
}

var kindSpecs = map[Kind]kindSpec{
	KindKick:           {tag: "KICK", minFields: 5},
	KindKickByName:     {tag: "KICK_BY_NAME", minFields: 5},
	KindSendAll:        {tag: "SEND_ALL", minFields: 4},
	KindPlayerConnect:  {tag: "PLAYER_CONNECT", minFields: 4},
	KindSendPlayer:     {tag: "SEND_PLAYER", minFields: 5},
	KindMuteApplied:    {tag: "MUTE_APPLIED", minFields: 5},
	KindPrivateMessage: {tag: "PRIVATE_MESSAGE", minFields: 4},
	KindBroadcast:      {tag: "BROADCAST", minFields: 3},
	KindTeamChat:       {tag: "TEAM_CHAT", minFields: 3},
}

var kindsByTag = func() map[string]Kind {
	m := make(map[string]Kind, len(kindSpecs))
	for k, spec := range kindSpecs {
		m[spec.tag] = k
	}
	return m
}()

// String returns the wire tag of the kind.
func (k Kind) String() string {
	if spec, ok := kindSpecs[k]; ok {
		return spec.tag
	}
	return "UNKNOWN"
}

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindKick, KindKickByName, KindSendAll, KindPlayerConnect, KindSendPlayer,
		KindMuteApplied, KindPrivateMessage, KindBroadcast, KindTeamChat,
	}
}

// Envelope holds the fields every message carries.
type Envelope struct {
	Secret string // shared secret filtering unrelated bus traffic
	Origin string // instance id of the publisher
}

// Message is the closed union of cross-instance messages.
// Only the types in this package implement it.
type Message interface {
	Kind() Kind
	Env() Envelope
	sealed()
}

// Kick disconnects a session by id.
type Kick struct {
	Envelope
	TargetID string
	Reason   string
}

// KickByName disconnects a session by display name.
type KickByName struct {
	Envelope
	TargetName string
	Reason     string
}

// SendAll redirects every session to a backend server.
type SendAll struct {
	Envelope
	Server string
}

// PlayerConnect announces that a session just connected on Origin.
type PlayerConnect struct {
	Envelope
	TargetID string
}

// SendPlayer redirects one session to a backend server.
type SendPlayer struct {
	Envelope
	TargetID string
	Server   string
}

// MuteApplied notifies a session that it has been muted.
type MuteApplied struct {
	Envelope
	TargetID string
	Reason   string
	Duration string
}

// PrivateMessage delivers pre-rendered text to one session by name.
type PrivateMessage struct {
	Envelope
	TargetName string
	Text       string
}

// Broadcast delivers pre-rendered text to every session.
type Broadcast struct {
	Envelope
	Text string
}

// TeamChat delivers pre-rendered text to sessions holding the team permission.
type TeamChat struct {
	Envelope
	Text string
}

func (Kick) Kind() Kind           { return KindKick }
func (KickByName) Kind() Kind     { return KindKickByName }
func (SendAll) Kind() Kind        { return KindSendAll }
func (PlayerConnect) Kind() Kind  { return KindPlayerConnect }
func (SendPlayer) Kind() Kind     { return KindSendPlayer }
func (MuteApplied) Kind() Kind    { return KindMuteApplied }
func (PrivateMessage) Kind() Kind { return KindPrivateMessage }
func (Broadcast) Kind() Kind      { return KindBroadcast }
func (TeamChat) Kind() Kind       { return KindTeamChat }

// Env returns the secret and origin carried by the message.
func (e Envelope) Env() Envelope { return e }

func (Envelope) sealed() {}
