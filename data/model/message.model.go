package model

// MessageModel is the relay payload as it travels over the channel bus and
// out to stream subscribers. Immutable once published; the id is assigned
// by the sender and is only unique per sender.
type MessageModel struct {
	ID              string `json:"id"`
	Text            string `json:"text"`
	Timestamp       string `json:"timestamp"`
	SenderID        string `json:"senderId"`
	SenderName      string `json:"senderName"`
	IsDirectMessage bool   `json:"isDirectMessage"`
	RecipientID     string `json:"recipientId,omitempty"`
}
