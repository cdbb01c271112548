package models

import "testing"

func TestInferMedia(t *testing.T) {
	cases := []struct {
		body      string
		wantKind  Kind
		wantMedia MediaType
	}{
		{"/uploads/photo.jpg", KindMedia, MediaImage},
		{"/uploads/photo.JPEG", KindMedia, MediaImage},
		{"/uploads/clip.webm", KindMedia, MediaVideo},
		{"/uploads/clip.mov", KindMedia, MediaVideo},
		{"/uploads/doc.pdf", KindMedia, MediaFile},
		{"/uploads/noext", KindMedia, MediaFile},
		{"plain text with /uploads/ inside", "", ""},
		{"hello", "", ""},
	}
	for _, tc := range cases {
		m := Message{Body: tc.body}
		m.InferMedia()
		if m.Kind != tc.wantKind || m.MediaType != tc.wantMedia {
			t.Errorf("%q: got (%s,%s), want (%s,%s)", tc.body, m.Kind, m.MediaType, tc.wantKind, tc.wantMedia)
		}
	}
}

func TestInferMediaKeepsExplicitType(t *testing.T) {
	m := Message{Body: "/uploads/photo.jpg", Kind: KindText}
	m.InferMedia()
	if m.Kind != KindText {
		t.Errorf("explicit kind must not be overwritten, got %s", m.Kind)
	}
}

func TestDedupKey(t *testing.T) {
	withID := Message{ID: "abc", Body: "x", RawTimestamp: "10:00:00"}
	if withID.DedupKey() != "id:abc" {
		t.Errorf("id key: got %q", withID.DedupKey())
	}
	a := Message{Body: "x", RawTimestamp: "10:00:00", Kind: KindText}
	b := Message{Body: "x", RawTimestamp: "10:00:00", Kind: KindText}
	if a.DedupKey() != b.DedupKey() {
		t.Error("identical unidentified messages must share a key")
	}
	c := Message{Body: "x", RawTimestamp: "10:00:00", Kind: KindMedia}
	if a.DedupKey() == c.DedupKey() {
		t.Error("kind must be part of the composite key")
	}
}

func TestToggleSaved(t *testing.T) {
	m := Message{}
	if !m.ToggleSaved("u1") {
		t.Fatal("first toggle should add")
	}
	if !m.Saved("u1") {
		t.Fatal("u1 should be saved")
	}
	if m.ToggleSaved("u1") {
		t.Fatal("second toggle should remove")
	}
	if m.Saved("u1") {
		t.Fatal("u1 should no longer be saved")
	}
}

func TestKeyFor(t *testing.T) {
	group := Message{RoomID: "r1", From: "alice"}
	if k := KeyFor(&group, "me"); k != RoomKey("r1") {
		t.Errorf("group key: got %s", k)
	}
	inbound := Message{From: "alice", To: "me"}
	if k := KeyFor(&inbound, "me"); k != DirectKey("alice") {
		t.Errorf("inbound key: got %s", k)
	}
	outbound := Message{From: "me", To: "alice"}
	if k := KeyFor(&outbound, "me"); k != DirectKey("alice") {
		t.Errorf("outbound key: got %s", k)
	}
}

func TestConversationKey(t *testing.T) {
	d := DirectKey("u1")
	if d.IsRoom() || d.PeerID() != "u1" || d.RoomID() != "" {
		t.Errorf("direct key misbehaves: %s", d)
	}
	r := RoomKey("r1")
	if !r.IsRoom() || r.RoomID() != "r1" || r.PeerID() != "" {
		t.Errorf("room key misbehaves: %s", r)
	}
}
