package transport

import (
	"context"

	"github.com/ROMARIC12/chat-sync/internal/models"
)

// Adapter glues the REST surface and the socket channel into the single
// upstream collaborator the reconciler depends on.
type Adapter struct {
	rest *HistoryClient
	sock *Socket
}

func NewAdapter(rest *HistoryClient, sock *Socket) *Adapter {
	return &Adapter{rest: rest, sock: sock}
}

func (a *Adapter) FetchHistory(ctx context.Context, key models.ConversationKey) ([]models.Message, error) {
	return a.rest.FetchHistory(ctx, key)
}

// SendMessage emits the draft on the socket channel. Private and group sends
// use distinct upstream events.
func (a *Adapter) SendMessage(ctx context.Context, m *models.Message) error {
	if m.RoomID != "" {
		return a.sock.Emit("sendGroupMessage", m)
	}
	return a.sock.Emit("sendMessage", m)
}

// DeleteMessage notifies peers over the socket, then removes the persisted
// copy over REST. The socket emit failing does not stop the REST call.
func (a *Adapter) DeleteMessage(ctx context.Context, messageID string, key models.ConversationKey) error {
	if key.IsRoom() {
		_ = a.sock.Emit("deleteGroupMessage", map[string]string{"messageId": messageID, "roomId": key.RoomID()})
	} else {
		_ = a.sock.Emit("deletePrivateMessage", map[string]string{"messageId": messageID, "to": key.PeerID()})
	}
	return a.rest.DeleteMessage(ctx, messageID)
}

func (a *Adapter) SaveMessage(ctx context.Context, messageID string) error {
	return a.rest.SaveMessage(ctx, messageID)
}
