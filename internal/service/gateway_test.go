package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, repo *chatRepoStub) *chatGateway {
	t.Helper()

	access := newAccessService(repo, nil)
	messages := newTestMessageService(t, repo, nil, nil)
	validate := validator.New(validator.WithRequiredStructEnabled())

	gateway := NewChatGateway(repo, access, messages, NewPresenceTracker(), NewJWTVerifier(testSecret), validate, testLogger()).(*chatGateway)
	return gateway
}

func newTestClient(g *chatGateway, userID uint) *gatewayClient {
	return &gatewayClient{
		id:       uuid.NewString(),
		identity: Identity{UserID: userID, Role: RoleStudent},
		send:     make(chan []byte, gatewaySendBufferSize),
		rooms:    make(map[uint]struct{}),
		closed:   make(chan struct{}),
		gateway:  g,
		baseCtx:  context.Background(),
	}
}

func recvFrame(t *testing.T, client *gatewayClient) wsFrame {
	t.Helper()

	select {
	case payload := <-client.send:
		var frame wsFrame
		require.NoError(t, json.Unmarshal(payload, &frame))
		return frame
	default:
		t.Fatal("expected a frame on the send queue")
		return wsFrame{}
	}
}

func requireNoFrame(t *testing.T, client *gatewayClient) {
	t.Helper()

	select {
	case payload := <-client.send:
		t.Fatalf("unexpected frame: %s", payload)
	default:
	}
}

func decodeData(t *testing.T, frame wsFrame, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(frame.Data, target))
}

func inboundFrame(t *testing.T, event string, data interface{}) wsFrame {
	t.Helper()

	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return wsFrame{Event: event, Data: raw}
}

func TestHubBroadcastSkipsExcluded(t *testing.T) {
	gateway := newTestGateway(t, newChatRepoStub())
	sender := newTestClient(gateway, 1)
	peer := newTestClient(gateway, 2)

	gateway.hub.join(1, sender)
	gateway.hub.join(1, peer)

	gateway.broadcast(1, EventTypingStart, map[string]uint{"chat_id": 1, "user_id": 1}, sender)

	frame := recvFrame(t, peer)
	require.Equal(t, EventTypingStart, frame.Event)
	requireNoFrame(t, sender)
}

func TestHubLeaveAll(t *testing.T) {
	gateway := newTestGateway(t, newChatRepoStub())
	client := newTestClient(gateway, 1)

	gateway.hub.join(1, client)
	gateway.hub.join(2, client)

	rooms := gateway.hub.leaveAll(client)
	require.ElementsMatch(t, []uint{1, 2}, rooms)
	require.Empty(t, client.rooms)

	gateway.broadcast(1, EventTypingStart, nil, nil)
	requireNoFrame(t, client)
}

func TestHubBroadcastDropsFramesForSlowClient(t *testing.T) {
	gateway := newTestGateway(t, newChatRepoStub())
	slow := newTestClient(gateway, 1)
	gateway.hub.join(1, slow)

	for i := 0; i < gatewaySendBufferSize; i++ {
		slow.send <- []byte("backlog")
	}

	// Must not block even though the queue is full.
	gateway.broadcast(1, EventTypingStart, nil, nil)
	require.Len(t, slow.send, gatewaySendBufferSize)
}

func TestDispatchMessageSendBroadcastsToRoom(t *testing.T) {
	repo := newChatRepoStub()
	chat := seedDirectChat(repo, 1, 2)
	gateway := newTestGateway(t, repo)

	sender := newTestClient(gateway, 1)
	peer := newTestClient(gateway, 2)
	gateway.hub.join(chat.ID, sender)
	gateway.hub.join(chat.ID, peer)

	gateway.dispatch(context.Background(), sender, inboundFrame(t, eventMessageSend, map[string]interface{}{
		"chat_id": chat.ID,
		"content": "hello there",
	}))

	// New messages reach every room member, the sender included.
	for _, client := range []*gatewayClient{sender, peer} {
		frame := recvFrame(t, client)
		require.Equal(t, EventMessageNew, frame.Event)

		var message struct {
			ChatID  uint   `json:"chat_id"`
			Content string `json:"content"`
		}
		decodeData(t, frame, &message)
		require.Equal(t, chat.ID, message.ChatID)
		require.Equal(t, "hello there", message.Content)
	}
}

func TestDispatchMessageSendForbiddenAnswersSenderOnly(t *testing.T) {
	repo := newChatRepoStub()
	chat := seedDirectChat(repo, 1, 2)
	gateway := newTestGateway(t, repo)

	outsider := newTestClient(gateway, 9)
	member := newTestClient(gateway, 1)
	gateway.hub.join(chat.ID, member)

	gateway.dispatch(context.Background(), outsider, inboundFrame(t, eventMessageSend, map[string]interface{}{
		"chat_id": chat.ID,
		"content": "sneaky",
	}))

	frame := recvFrame(t, outsider)
	require.Equal(t, eventMessageSend, frame.Event)

	var ack ackPayload
	decodeData(t, frame, &ack)
	require.False(t, ack.Success)
	require.NotEmpty(t, ack.Error)

	requireNoFrame(t, member)
}

func TestDispatchTypingRelayedOnlyFromRoomMembers(t *testing.T) {
	repo := newChatRepoStub()
	chat := seedDirectChat(repo, 1, 2)
	gateway := newTestGateway(t, repo)

	sender := newTestClient(gateway, 1)
	peer := newTestClient(gateway, 2)
	gateway.hub.join(chat.ID, sender)
	gateway.hub.join(chat.ID, peer)

	gateway.dispatch(context.Background(), sender, inboundFrame(t, EventTypingStart, map[string]uint{"chat_id": chat.ID}))

	frame := recvFrame(t, peer)
	require.Equal(t, EventTypingStart, frame.Event)
	requireNoFrame(t, sender)

	// A client outside the room gets silently ignored.
	stranger := newTestClient(gateway, 9)
	gateway.dispatch(context.Background(), stranger, inboundFrame(t, EventTypingStart, map[string]uint{"chat_id": chat.ID}))
	requireNoFrame(t, stranger)
	requireNoFrame(t, peer)
}

func TestDispatchChatReadAcksAndRelays(t *testing.T) {
	repo := newChatRepoStub()
	chat := seedDirectChat(repo, 1, 2)
	gateway := newTestGateway(t, repo)

	reader := newTestClient(gateway, 1)
	peer := newTestClient(gateway, 2)
	gateway.hub.join(chat.ID, reader)
	gateway.hub.join(chat.ID, peer)

	gateway.dispatch(context.Background(), reader, inboundFrame(t, eventChatRead, map[string]uint{"chat_id": chat.ID}))

	relay := recvFrame(t, peer)
	require.Equal(t, EventChatRead, relay.Event)

	var relayed struct {
		ChatID uint `json:"chat_id"`
		UserID uint `json:"user_id"`
	}
	decodeData(t, relay, &relayed)
	require.Equal(t, chat.ID, relayed.ChatID)
	require.Equal(t, uint(1), relayed.UserID)

	ackFrame := recvFrame(t, reader)
	require.Equal(t, eventChatRead, ackFrame.Event)

	var ack ackPayload
	decodeData(t, ackFrame, &ack)
	require.True(t, ack.Success)
}

func TestDispatchChatJoin(t *testing.T) {
	repo := newChatRepoStub()
	chat := seedDirectChat(repo, 1, 2)
	gateway := newTestGateway(t, repo)

	client := newTestClient(gateway, 1)
	gateway.presence.MarkOnline(1, client.id)

	gateway.dispatch(context.Background(), client, inboundFrame(t, eventChatJoin, map[string]uint{"chat_id": chat.ID}))

	frame := recvFrame(t, client)
	require.Equal(t, eventChatJoin, frame.Event)

	var ack struct {
		Success bool `json:"success"`
		Data    struct {
			ChatID      uint   `json:"chat_id"`
			OnlineUsers []uint `json:"online_users"`
		} `json:"data"`
	}
	decodeData(t, frame, &ack)
	require.True(t, ack.Success)
	require.Equal(t, chat.ID, ack.Data.ChatID)
	require.Equal(t, []uint{1}, ack.Data.OnlineUsers)
	require.True(t, client.inRoom(chat.ID))
}

func TestDispatchRejectsUnknownEvent(t *testing.T) {
	gateway := newTestGateway(t, newChatRepoStub())
	client := newTestClient(gateway, 1)

	gateway.dispatch(context.Background(), client, wsFrame{Event: "message:rewind"})

	frame := recvFrame(t, client)
	require.Equal(t, "message:rewind", frame.Event)

	var ack ackPayload
	decodeData(t, frame, &ack)
	require.False(t, ack.Success)
}

func TestDispatchRejectsUnknownFields(t *testing.T) {
	repo := newChatRepoStub()
	chat := seedDirectChat(repo, 1, 2)
	gateway := newTestGateway(t, repo)

	client := newTestClient(gateway, 1)
	raw := json.RawMessage(fmt.Sprintf(`{"chat_id":%d,"content":"hi","evil":true}`, chat.ID))

	gateway.dispatch(context.Background(), client, wsFrame{Event: eventMessageSend, Data: raw})

	frame := recvFrame(t, client)
	var ack ackPayload
	decodeData(t, frame, &ack)
	require.False(t, ack.Success)
	require.Zero(t, repo.createdMessages)
}

func TestUnregisterBroadcastsOfflineOnLastConnection(t *testing.T) {
	repo := newChatRepoStub()
	chat := seedDirectChat(repo, 1, 2)
	gateway := newTestGateway(t, repo)

	phone := newTestClient(gateway, 1)
	laptop := newTestClient(gateway, 1)
	peer := newTestClient(gateway, 2)
	gateway.hub.join(chat.ID, phone)
	gateway.hub.join(chat.ID, laptop)
	gateway.hub.join(chat.ID, peer)
	gateway.presence.MarkOnline(1, phone.id)
	gateway.presence.MarkOnline(1, laptop.id)

	gateway.unregisterClient(phone)
	requireNoFrame(t, peer)

	gateway.unregisterClient(laptop)
	frame := recvFrame(t, peer)
	require.Equal(t, EventUserOffline, frame.Event)

	var offline struct {
		ChatID uint `json:"chat_id"`
		UserID uint `json:"user_id"`
	}
	decodeData(t, frame, &offline)
	require.Equal(t, uint(1), offline.UserID)
	require.Equal(t, chat.ID, offline.ChatID)
}
