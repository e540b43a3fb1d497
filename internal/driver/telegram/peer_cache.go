package telegram

import (
	"fmt"
	"strconv"
	"sync"

	"ex-hermes/pkg/hermes"

	"github.com/gotd/td/tg"
)

// PeerCache stores Telegram input peers discovered from inbound updates.
//
// Outbound dispatch uses it to turn neutral conversations back into peers.
// Conversations are keyed by id only: Telegram user, chat and channel ids do
// not collide in the form the mapper renders them.
type PeerCache struct {
	mu    sync.RWMutex
	peers map[string]tg.InputPeerClass
}

// NewPeerCache creates an empty peer cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{peers: make(map[string]tg.InputPeerClass)}
}

// RememberEnvelope ingests the users and chats attached to one update.
func (c *PeerCache) RememberEnvelope(envelope gotdUpdateEnvelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for userID, user := range envelope.usersByID {
		if peer := user.AsInputPeer(); peer != nil {
			c.peers[strconv.FormatInt(userID, 10)] = peer
		}
	}
	for chatID, chat := range envelope.chatsByID {
		if chat.inputPeer != nil {
			c.peers[strconv.FormatInt(chatID, 10)] = chat.inputPeer
		}
	}
}

// RememberConversation stores one explicit conversation-to-peer mapping.
func (c *PeerCache) RememberConversation(chat ChatRef, peer tg.InputPeerClass) {
	if peer == nil || chat.ID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.peers[chat.ID] = peer
}

// Resolve returns the input peer for conversation.
func (c *PeerCache) Resolve(conversation hermes.Conversation) (tg.InputPeerClass, error) {
	if conversation.ID == "" {
		return nil, fmt.Errorf("resolve peer: empty conversation id")
	}

	c.mu.RLock()
	peer, ok := c.peers[conversation.ID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("resolve peer: conversation %s not seen yet", conversation.ID)
	}

	return peer, nil
}

// Len returns the number of known peers.
func (c *PeerCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.peers)
}
