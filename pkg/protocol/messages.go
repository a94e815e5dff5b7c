// Package protocol defines the wire protocol messages exchanged between the
// parley server and its chat clients over WebSocket.
//
// All messages are JSON-encoded. Server → client events other than chat carry
// a "type" field; chat events are recognized by their shape.
package protocol

// Message type discriminators.
const (
	TypeChat         = "chat"
	TypeAnnouncement = "announcement"
	TypeUserList     = "userList"
)

// InboundFrame is the only client → server message shape. Anything that does
// not parse into it with type "chat" is dropped by the server.
type InboundFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ChatEvent is a re-broadcast chat message. It deliberately carries no type
// field; clients treat any frame with a username as chat.
type ChatEvent struct {
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// AnnouncementEvent is a room-wide notice, such as a user joining.
type AnnouncementEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// UserListEvent is the presence snapshot: every identity with at least one
// open connection, deduplicated and sorted.
type UserListEvent struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}
