package canvas

import "pixelpandemonium.ai/internal/protocol"

// SendMessage appends to the chat log, evicting the oldest entries.
func (m *Model) SendMessage(now int64, msg protocol.ChatMessage) error {
	m.chat = append(m.chat, msg)
	if over := len(m.chat) - m.cfg.ChatHistory; over > 0 {
		m.chat = append([]protocol.ChatMessage(nil), m.chat[over:]...)
	}
	m.pub.Publish(protocol.ScopeChat, protocol.BroadcastNewMessage, msg)
	return nil
}

// RecordMint keeps the most recent mints first.
func (m *Model) RecordMint(now int64, rec protocol.NFTMint) error {
	m.nfts = append([]protocol.NFTMint{rec}, m.nfts...)
	if len(m.nfts) > m.cfg.NFTHistory {
		m.nfts = m.nfts[:m.cfg.NFTHistory]
	}
	m.pub.Publish(protocol.ScopeNFT, protocol.BroadcastNFTMinted, rec)
	return nil
}
