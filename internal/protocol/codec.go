// Package protocol implements the compact delimited wire format shared by
// every proxy instance on the bus.
//
// Fields are joined by Separator. Structured fields (ids, tags, server names,
// durations, secret, origin) never contain it; free-text fields may, and are
// recovered as the span between the fixed leading and trailing fields.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Separator is the reserved field delimiter (ASCII unit separator).
const Separator = "\x1f"

var (
	ErrReservedSeparator = errors.New("structured field contains the reserved separator")
	ErrUnknownKind       = errors.New("unknown message kind")
)

// Encode renders m in the wire format. The free-text fields of a message may
// contain Separator; any other field containing it is rejected.
func Encode(m Message) (string, error) {
	var (
		structured []string
		fields     []string
	)
	if m == nil {
		return "", fmt.Errorf("encode <nil>: %w", ErrUnknownKind)
	}
	env := m.Env()
	switch msg := m.(type) {
	case Kick:
		structured = []string{msg.TargetID}
		fields = []string{msg.TargetID, msg.Reason, env.Secret, env.Origin}
	case KickByName:
		structured = []string{msg.TargetName}
		fields = []string{msg.TargetName, msg.Reason, env.Secret, env.Origin}
	case SendAll:
		structured = []string{msg.Server}
		fields = []string{msg.Server, env.Secret, env.Origin}
	case PlayerConnect:
		// origin leads and there is no trailing origin for this kind
		structured = []string{msg.TargetID}
		fields = []string{env.Origin, msg.TargetID, env.Secret}
	case SendPlayer:
		structured = []string{msg.TargetID, msg.Server}
		fields = []string{msg.TargetID, msg.Server, env.Secret, env.Origin}
	case MuteApplied:
		structured = []string{msg.TargetID, msg.Duration}
		fields = []string{msg.TargetID, msg.Reason, msg.Duration, env.Secret, env.Origin}
	case PrivateMessage:
		structured = []string{msg.TargetName}
		fields = []string{msg.TargetName, msg.Text, env.Secret, env.Origin}
	case Broadcast:
		fields = []string{msg.Text, env.Secret, env.Origin}
	case TeamChat:
		fields = []string{msg.Text, env.Secret, env.Origin}
	default:
		return "", fmt.Errorf("encode %T: %w", m, ErrUnknownKind)
	}

	structured = append(structured, env.Secret, env.Origin)
	for _, f := range structured {
		if strings.Contains(f, Separator) {
			return "", fmt.Errorf("encode %s: %w", m.Kind(), ErrReservedSeparator)
		}
	}

	return m.Kind().String() + Separator + strings.Join(fields, Separator), nil
}

// Decode parses a wire message. Anything malformed, truncated or of an
// unknown kind yields ok == false.
func Decode(raw string) (Message, bool) {
	if raw == "" || !strings.Contains(raw, Separator) {
		return nil, false
	}

	// strings.Split keeps empty trailing fields, which matter for empty origins
	f := strings.Split(raw, Separator)
	kind, ok := kindsByTag[f[0]]
	if !ok {
		return nil, false
	}
	n := len(f)
	if n < kindSpecs[kind].minFields {
		return nil, false
	}

	switch kind {
	case KindKick:
		return Kick{
			TargetID: f[1],
			Reason:   span(f, 2, n-2),
			Envelope: Envelope{Secret: f[n-2], Origin: f[n-1]},
		}, true
	case KindKickByName:
		return KickByName{
			TargetName: f[1],
			Reason:     span(f, 2, n-2),
			Envelope:   Envelope{Secret: f[n-2], Origin: f[n-1]},
		}, true
	case KindSendAll:
		return SendAll{
			Server:   f[1],
			Envelope: Envelope{Secret: f[2], Origin: f[3]},
		}, true
	case KindPlayerConnect:
		return PlayerConnect{
			TargetID: f[2],
			Envelope: Envelope{Secret: f[3], Origin: f[1]},
		}, true
	case KindSendPlayer:
		return SendPlayer{
			TargetID: f[1],
			Server:   f[2],
			Envelope: Envelope{Secret: f[3], Origin: f[4]},
		}, true
	case KindMuteApplied:
		if n == 5 {
			// short form without origin
			return MuteApplied{
				TargetID: f[1],
				Reason:   f[2],
				Duration: f[3],
				Envelope: Envelope{Secret: f[4]},
			}, true
		}
		return MuteApplied{
			TargetID: f[1],
			Reason:   span(f, 2, n-3),
			Duration: f[n-3],
			Envelope: Envelope{Secret: f[n-2], Origin: f[n-1]},
		}, true
	case KindPrivateMessage:
		if n == 4 {
			return PrivateMessage{
				TargetName: f[1],
				Text:       f[2],
				Envelope:   Envelope{Secret: f[3]},
			}, true
		}
		return PrivateMessage{
			TargetName: f[1],
			Text:       span(f, 2, n-2),
			Envelope:   Envelope{Secret: f[n-2], Origin: f[n-1]},
		}, true
	case KindBroadcast:
		if n == 3 {
			return Broadcast{Text: f[1], Envelope: Envelope{Secret: f[2]}}, true
		}
		return Broadcast{
			Text:     span(f, 1, n-2),
			Envelope: Envelope{Secret: f[n-2], Origin: f[n-1]},
		}, true
	case KindTeamChat:
		if n == 3 {
			return TeamChat{Text: f[1], Envelope: Envelope{Secret: f[2]}}, true
		}
		return TeamChat{
			Text:     span(f, 1, n-2),
			Envelope: Envelope{Secret: f[n-2], Origin: f[n-1]},
		}, true
	}
	return nil, false
}

// span rejoins f[from:to], restoring separators that were part of free text.
func span(f []string, from, to int) string {
	if from >= to {
		return ""
	}
	return strings.Join(f[from:to], Separator)
}

// WithEnvelope returns a copy of m carrying env.
func WithEnvelope(m Message, env Envelope) Message {
	switch msg := m.(type) {
	case Kick:
		msg.Envelope = env
		return msg
	case KickByName:
		msg.Envelope = env
		return msg
	case SendAll:
		msg.Envelope = env
		return msg
	case PlayerConnect:
		msg.Envelope = env
		return msg
	case SendPlayer:
		msg.Envelope = env
		return msg
	case MuteApplied:
		msg.Envelope = env
		return msg
	case PrivateMessage:
		msg.Envelope = env
		return msg
	case Broadcast:
		msg.Envelope = env
		return msg
	case TeamChat:
		msg.Envelope = env
		return msg
	}
	return m
}
