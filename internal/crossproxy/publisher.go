package crossproxy

import "proxysync/internal/protocol"

// The Publish* methods never block. Each returns false when the message was
// not queued (client not connected, queue full, or encoding rejected).

func (c *Client) PublishKick(targetID, reason string) bool {
	return c.publish(protocol.Kick{TargetID: targetID, Reason: reason})
}

func (c *Client) PublishKickByName(targetName, reason string) bool {
	return c.publish(protocol.KickByName{TargetName: targetName, Reason: reason})
}

func (c *Client) PublishSendAll(server string) bool {
	return c.publish(protocol.SendAll{Server: server})
}

func (c *Client) PublishPlayerConnect(targetID string) bool {
	return c.publish(protocol.PlayerConnect{TargetID: targetID})
}

func (c *Client) PublishSendPlayer(targetID, server string) bool {
	return c.publish(protocol.SendPlayer{TargetID: targetID, Server: server})
}

func (c *Client) PublishMuteApplied(targetID, reason, duration string) bool {
	return c.publish(protocol.MuteApplied{TargetID: targetID, Reason: reason, Duration: duration})
}

func (c *Client) PublishPrivateMessage(targetName, text string) bool {
	return c.publish(protocol.PrivateMessage{TargetName: targetName, Text: text})
}

func (c *Client) PublishBroadcast(text string) bool {
	return c.publish(protocol.Broadcast{Text: text})
}

func (c *Client) PublishTeamChat(text string) bool {
	return c.publish(protocol.TeamChat{Text: text})
}

// Publish queues an already built message, stamped with this instance's
// envelope.
func (c *Client) Publish(m protocol.Message) bool {
	return c.publish(m)
}
