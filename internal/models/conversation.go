package models

import "strings"

// ConversationKey identifies a direct or group thread. Direct keys carry the
// peer user id, group keys the room id.
type ConversationKey string

const (
	directPrefix = "dm:"
	roomPrefix   = "room:"
)

func DirectKey(peerID string) ConversationKey {
	return ConversationKey(directPrefix + peerID)
}

func RoomKey(roomID string) ConversationKey {
	return ConversationKey(roomPrefix + roomID)
}

func (k ConversationKey) IsRoom() bool {
	return strings.HasPrefix(string(k), roomPrefix)
}

// PeerID returns the peer user id for a direct key, or "" for rooms.
func (k ConversationKey) PeerID() string {
	if strings.HasPrefix(string(k), directPrefix) {
		return string(k[len(directPrefix):])
	}
	return ""
}

// RoomID returns the room id for a group key, or "" for direct threads.
func (k ConversationKey) RoomID() string {
	if k.IsRoom() {
		return string(k[len(roomPrefix):])
	}
	return ""
}

func (k ConversationKey) String() string { return string(k) }

// KeyFor derives the conversation a message belongs to, from the viewpoint
// of selfID. Group messages key on the room, direct ones on the other party.
func KeyFor(m *Message, selfID string) ConversationKey {
	if m.RoomID != "" {
		return RoomKey(m.RoomID)
	}
	if m.From == selfID {
		return DirectKey(m.To)
	}
	return DirectKey(m.From)
}
