package router

// Frame type discriminators shared by both directions of the protocol.
const (
	TypeConnected                = "connected"
	TypeChatMessage              = "chat_message"
	TypeBroadcastMessage         = "broadcast_message"
	TypeRequestInitialMessages   = "request_initial_messages"
	TypeRequestInitialBroadcasts = "request_initial_broadcasts"
	TypeDeleteChatMessage        = "delete_chat_message"
	TypeDeleteBroadcastMessage   = "delete_broadcast_message"
	TypeInitialMessages          = "initial_messages"
	TypeInitialBroadcasts        = "initial_broadcasts"
	TypeChatMessageDeleted       = "chat_message_deleted"
	TypeBroadcastMessageDeleted  = "broadcast_message_deleted"
	TypeServerShutdown           = "server_shutdown"
)

// ChatFrame is a chat message on the wire, inbound and outbound. Type is
// omitted for items nested inside an initial_messages list.
type ChatFrame struct {
	Type      string `json:"type,omitempty"`
	ID        string `json:"id,omitempty"`
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	SenderID  string `json:"senderId"`
	Timestamp string `json:"timestamp,omitempty"`
	Region    string `json:"region,omitempty"`
	District  string `json:"district,omitempty"`
}

// BroadcastFrame is a broadcast notice on the wire.
type BroadcastFrame struct {
	Type            string   `json:"type,omitempty"`
	ID              string   `json:"id,omitempty"`
	Title           string   `json:"title"`
	Message         string   `json:"message"`
	Priority        string   `json:"priority,omitempty"`
	CreatedBy       string   `json:"createdBy,omitempty"`
	Timestamp       string   `json:"timestamp,omitempty"`
	TargetRegions   []string `json:"targetRegions,omitempty"`
	TargetDistricts []string `json:"targetDistricts,omitempty"`
}

// DeleteFrame asks for removal of a persisted message.
type DeleteFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

// InitialChatFrame carries the recent chat history to one connection.
type InitialChatFrame struct {
	Type     string      `json:"type"`
	Messages []ChatFrame `json:"messages"`
}

// InitialBroadcastFrame carries the recent broadcast history to one connection.
type InitialBroadcastFrame struct {
	Type     string           `json:"type"`
	Messages []BroadcastFrame `json:"messages"`
}

// DeletedFrame is the global invalidation notice emitted after a delete.
type DeletedFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

// ConnectedFrame acknowledges a successful registration.
type ConnectedFrame struct {
	Type       string `json:"type"`
	UserID     string `json:"userId"`
	ClientID   string `json:"clientId"`
	ServerTime string `json:"serverTime"`
	Timestamp  string `json:"timestamp"`
}

// ShutdownFrame announces a server drain to every open connection.
type ShutdownFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}
