package sendbird

// User is a Sendbird user.
type User struct {
	UserID     string `json:"user_id"`
	Nickname   string `json:"nickname"`
	ProfileURL string `json:"profile_url"`
	IsOnline   bool   `json:"is_online,omitempty"`
}

// SessionToken authenticates a browser SDK connection.
type SessionToken struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Member is a channel member.
type Member struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
	State    string `json:"state,omitempty"`
}

// Channel is a group channel.
type Channel struct {
	ChannelURL         string   `json:"channel_url"`
	Name               string   `json:"name"`
	CustomType         string   `json:"custom_type,omitempty"`
	Data               string   `json:"data,omitempty"`
	IsDistinct         bool     `json:"is_distinct"`
	MemberCount        int      `json:"member_count"`
	UnreadMessageCount int      `json:"unread_message_count"`
	CreatedAt          int64    `json:"created_at"`
	LastMessage        *Message `json:"last_message,omitempty"`
	Members            []Member `json:"members,omitempty"`
}

// HasMember reports whether userID belongs to the channel.
func (c *Channel) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// Message is a channel message.
type Message struct {
	MessageID  int64  `json:"message_id"`
	Type       string `json:"type"`
	Message    string `json:"message"`
	ChannelURL string `json:"channel_url,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	User       *User  `json:"user,omitempty"`
}

// ChannelList is one page of channels; Next is the cursor for the next page.
type ChannelList struct {
	Channels []Channel `json:"channels"`
	Next     string    `json:"next"`
}

// ListChannelsOptions pages through a user's channels.
type ListChannelsOptions struct {
	Token string
	Limit int
}

// ListMessagesOptions selects messages before a timestamp (ms).
type ListMessagesOptions struct {
	Before int64
	Limit  int
}

// CreateChannelRequest opens a distinct group channel between users.
type CreateChannelRequest struct {
	UserIDs    []string `json:"user_ids"`
	Name       string   `json:"name,omitempty"`
	CustomType string   `json:"custom_type,omitempty"`
	Data       string   `json:"data,omitempty"`
	IsDistinct bool     `json:"is_distinct"`
}

// WebhookEvent is the subset of a Sendbird webhook payload this service uses.
type WebhookEvent struct {
	Category string   `json:"category"`
	AppID    string   `json:"app_id"`
	Sender   User     `json:"sender"`
	Members  []Member `json:"members"`
	Channel  struct {
		ChannelURL string `json:"channel_url"`
		Name       string `json:"name"`
		CustomType string `json:"custom_type"`
	} `json:"channel"`
	Payload struct {
		MessageID int64  `json:"message_id"`
		Message   string `json:"message"`
		CreatedAt int64  `json:"created_at"`
	} `json:"payload"`
}
