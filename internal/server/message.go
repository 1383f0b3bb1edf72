// Package server implements the companion save server. It accepts image
// writes from the network mirror over HTTP, stores them under the images
// directory, and streams a notification for every saved image to
// WebSocket subscribers.
package server

import (
	"time"
)

// MessageType identifies the kind of event sent over the /api/events feed.
type MessageType string

const (
	// MessageTypeImageSaved is sent after an image (and its genome sidecar,
	// if any) has been written to disk.
	// Payload: ImageSavedPayload
	MessageTypeImageSaved MessageType = "image.saved"
)

// Message is the envelope for every event on the feed.
type Message struct {
	// Type identifies what kind of message this is.
	Type MessageType `json:"type"`

	// Payload contains the message-specific data.
	// The structure depends on the Type field.
	Payload interface{} `json:"payload"`
}

// ImageSavedPayload describes one completed save.
type ImageSavedPayload struct {
	SessionID string `json:"sessionId"`
	ImageID   string `json:"imageId"`

	// Path is the absolute path of the written PNG.
	Path string `json:"path"`

	// GenomePath is set when a genome sidecar was written.
	GenomePath string `json:"genomePath,omitempty"`

	// Timestamp is when the save completed (Unix milliseconds).
	Timestamp int64 `json:"timestamp"`
}

// NewImageSavedMessage creates the event broadcast after a save.
func NewImageSavedMessage(sessionID, imageID, path, genomePath string) Message {
	return Message{
		Type: MessageTypeImageSaved,
		Payload: ImageSavedPayload{
			SessionID:  sessionID,
			ImageID:    imageID,
			Path:       path,
			GenomePath: genomePath,
			Timestamp:  time.Now().UnixMilli(),
		},
	}
}
