package hub

import (
	"encoding/json"
	"html"
	"time"

	"github.com/parley-chat/parley/pkg/protocol"
)

// timestampFormat mirrors a browser locale time string.
const timestampFormat = "3:04:05 PM"

// sanitizeText neutralizes markup-significant characters (& < > " ') before
// re-broadcast. The rendering surface is expected to treat the result as
// escaped plain text; this is not a full sanitizer.
func sanitizeText(s string) string {
	return html.EscapeString(s)
}

func encodeChat(username, sanitized string, at time.Time) ([]byte, error) {
	return json.Marshal(protocol.ChatEvent{
		Username:  username,
		Message:   sanitized,
		Timestamp: at.Format(timestampFormat),
	})
}

func encodeAnnouncement(message string) ([]byte, error) {
	return json.Marshal(protocol.AnnouncementEvent{Type: protocol.TypeAnnouncement, Message: message})
}

func encodeUserList(users []string) ([]byte, error) {
	return json.Marshal(protocol.UserListEvent{Type: protocol.TypeUserList, Users: users})
}
