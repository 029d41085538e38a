package player

import "encoding/json"

// Voice handshake coordinator.
//
// Starting playback needs three facts that arrive independently: the voice
// server endpoint and token (gateway server update), the session id
// (gateway state update) and the node itself. Each entry point records its
// slice of the aggregate and then attempts the merge; the merge fires
// exactly once per completed aggregate because sending clears the pending
// server update.

// OnVoiceServerUpdate records the voice server payload from the host
// gateway and forwards a voice update to the node if the session id is
// already known. The payload is passed through verbatim.
func (p *Player) OnVoiceServerUpdate(event json.RawMessage) error {
	p.mu.Lock()
	p.pendingServer = event
	p.mu.Unlock()
	return p.sendVoiceUpdate()
}

// OnVoiceStateUpdate records the session id from the host gateway and
// forwards a voice update to the node if a server update is pending. An
// empty channel id means the bot left voice entirely: the aggregate is
// cleared without firing and the player tears itself down.
func (p *Player) OnVoiceStateUpdate(sessionID, channelID string) error {
	if channelID == "" {
		p.logger.Info("received voice disconnect from gateway, removing player")
		p.mu.Lock()
		p.sessionID = ""
		p.pendingServer = nil
		p.mu.Unlock()
		return p.Disconnect(true)
	}

	p.mu.Lock()
	p.sessionID = sessionID
	p.channelID = channelID
	p.mu.Unlock()
	return p.sendVoiceUpdate()
}

func (p *Player) sendVoiceUpdate() error {
	p.mu.Lock()
	if p.sessionID == "" || p.pendingServer == nil {
		p.mu.Unlock()
		return nil
	}
	sessionID := p.sessionID
	event := p.pendingServer
	p.pendingServer = nil
	p.mu.Unlock()

	p.logger.Debug("voice handshake complete, sending voice update")
	return p.node.SendVoiceUpdate(p.guildID, sessionID, event)
}
