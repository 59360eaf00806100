package api

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	conversationIDPrefix = "conv_"
	messageIDPrefix      = "msg_"
	taskIDPrefix         = "task_"
	artifactIDPrefix     = "art_"
)

var (
	conversationIDPattern = regexp.MustCompile(`^conv_[a-zA-Z0-9]{24}$`)
	messageIDPattern      = regexp.MustCompile(`^msg_[a-zA-Z0-9]{24}$`)
	taskIDPattern         = regexp.MustCompile(`^task_[a-zA-Z0-9]{24}$`)
	artifactIDPattern     = regexp.MustCompile(`^art_[a-zA-Z0-9]{24}$`)
)

// NewConversationID generates a new conversation ID with the "conv_" prefix
// followed by 24 cryptographically random alphanumeric characters.
func NewConversationID() string {
	return conversationIDPrefix + randomAlphanumeric(idLength)
}

// NewMessageID generates a new message ID with the "msg_" prefix.
func NewMessageID() string {
	return messageIDPrefix + randomAlphanumeric(idLength)
}

// NewTaskID generates a new task ID with the "task_" prefix.
func NewTaskID() string {
	return taskIDPrefix + randomAlphanumeric(idLength)
}

// NewArtifactID generates a new artifact ID with the "art_" prefix.
func NewArtifactID() string {
	return artifactIDPrefix + randomAlphanumeric(idLength)
}

// ValidateConversationID checks whether the given string is a valid conversation ID
// (matches "conv_" + 24 alphanumeric characters).
func ValidateConversationID(id string) bool {
	return conversationIDPattern.MatchString(id)
}

// ValidateMessageID checks whether the given string is a valid message ID.
func ValidateMessageID(id string) bool {
	return messageIDPattern.MatchString(id)
}

// ValidateTaskID checks whether the given string is a valid task ID.
func ValidateTaskID(id string) bool {
	return taskIDPattern.MatchString(id)
}

// ValidateArtifactID checks whether the given string is a valid artifact ID.
func ValidateArtifactID(id string) bool {
	return artifactIDPattern.MatchString(id)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
