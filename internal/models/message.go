package models

import (
	"strings"
	"time"
)

type Kind string

const (
	KindText  Kind = "text"
	KindMedia Kind = "media"
)

type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaFile  MediaType = "file"
)

var (
	imageExts = map[string]bool{"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true, "bmp": true}
	videoExts = map[string]bool{"mp4": true, "webm": true, "ogg": true, "mov": true, "avi": true, "mkv": true}
)

// Message is one chat message, direct or group. The wire shape matches the
// upstream backend: {_id, from, to, message, timestamp, type?, mediaType?},
// group messages carry roomId instead of to.
type Message struct {
	ID           string    `json:"_id,omitempty"`
	ClientID     string    `json:"clientId,omitempty"`
	From         string    `json:"from"`
	To           string    `json:"to,omitempty"`
	RoomID       string    `json:"roomId,omitempty"`
	Body         string    `json:"message"`
	Kind         Kind      `json:"type,omitempty"`
	MediaType    MediaType `json:"mediaType,omitempty"`
	RawTimestamp string    `json:"timestamp"`
	SavedBy      []string  `json:"savedBy,omitempty"`

	// SentAt is the normalized instant used for ordering and date
	// separators. Not part of the wire shape.
	SentAt time.Time `json:"-"`

	// Provisional marks a locally applied send that has not been echoed
	// back by the server yet.
	Provisional bool `json:"-"`
}

// DedupKey identifies a message for merge purposes. Messages without a
// stable id fall back to a composite of timestamp, body and kind, which can
// collide for identical near-simultaneous messages.
func (m *Message) DedupKey() string {
	if m.ID != "" {
		return "id:" + m.ID
	}
	return m.RawTimestamp + "\x00" + m.Body + "\x00" + string(m.Kind)
}

// InferMedia fills in Kind and MediaType for upload-path bodies when the
// upstream omitted them.
func (m *Message) InferMedia() {
	if m.Kind != "" || !strings.HasPrefix(m.Body, "/uploads/") {
		return
	}
	m.Kind = KindMedia
	idx := strings.LastIndexByte(m.Body, '.')
	if idx < 0 {
		m.MediaType = MediaFile
		return
	}
	switch ext := strings.ToLower(m.Body[idx+1:]); {
	case imageExts[ext]:
		m.MediaType = MediaImage
	case videoExts[ext]:
		m.MediaType = MediaVideo
	default:
		m.MediaType = MediaFile
	}
}

// Saved reports whether userID bookmarked this message.
func (m *Message) Saved(userID string) bool {
	for _, id := range m.SavedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// ToggleSaved flips userID membership in SavedBy and reports the new state.
func (m *Message) ToggleSaved(userID string) bool {
	for i, id := range m.SavedBy {
		if id == userID {
			m.SavedBy = append(m.SavedBy[:i], m.SavedBy[i+1:]...)
			return false
		}
	}
	m.SavedBy = append(m.SavedBy, userID)
	return true
}
