// Package v1 defines the chatnform realtime wire contract.
//
// It covers both surfaces of the delivery pipeline: the JSON frames
// exchanged with clients over the persistent connection, and the broker
// record format used between the gateway and the fan-out consumer.
// This package is intentionally stable and dependency-light.
package v1

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message type constants (wire-stable).
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

// ValidMessageType reports whether t is a known message type.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	default:
		return false
	}
}

// InboundFrame is one client-sent chat message.
// ID is optional: the gateway assigns one when absent.
type InboundFrame struct {
	ID          string `json:"id,omitempty"`
	Sender      string `json:"sender"`
	Message     string `json:"message"`
	MessageType string `json:"message_type"`
	FileURL     string `json:"file_url,omitempty"`
}

// Validate performs structural validation of a client frame.
func (f InboundFrame) Validate() error {
	if strings.TrimSpace(f.Sender) == "" {
		return errors.New("missing field: sender")
	}
	if strings.TrimSpace(f.MessageType) == "" {
		return errors.New("missing field: message_type")
	}
	if !ValidMessageType(f.MessageType) {
		return fmt.Errorf("unknown message_type: %q", f.MessageType)
	}
	if f.Message == "" && f.FileURL == "" {
		return errors.New("empty message")
	}
	return nil
}

// OutboundFrame is one message delivered to a client.
type OutboundFrame struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Message    string    `json:"message"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	File       string    `json:"file,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrorFrame reports a per-message failure to the client.
// The connection stays open; nothing here is fatal.
type ErrorFrame struct {
	Error string `json:"error"`
}

// ConnectedMessage is the exact acknowledgment text sent after a
// successful handshake.
const ConnectedMessage = "connection made."

// ConnectedFrame acknowledges an accepted connection.
type ConnectedFrame struct {
	Message string `json:"message"`
}

// MessageEnvelope is the broker record for one chat message in flight.
//
// Ciphertext carries the sealed payload (base64 on the wire via the
// default []byte JSON encoding). Origin is the connection id that
// produced the message; it exists only for loopback suppression and is
// never persisted.
type MessageEnvelope struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	GroupID     string    `json:"group_id"`
	Ciphertext  []byte    `json:"ciphertext"`
	FileURL     string    `json:"file_url,omitempty"`
	MessageType string    `json:"message_type"`
	Timestamp   time.Time `json:"timestamp"`
	Origin      string    `json:"origin,omitempty"`
}

// Validate performs structural validation of a broker record.
func (e MessageEnvelope) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("missing field: id")
	}
	if strings.TrimSpace(e.SenderID) == "" {
		return errors.New("missing field: sender_id")
	}
	if strings.TrimSpace(e.GroupID) == "" {
		return errors.New("missing field: group_id")
	}
	if !ValidMessageType(e.MessageType) {
		return fmt.Errorf("unknown message_type: %q", e.MessageType)
	}
	if e.Timestamp.IsZero() {
		return errors.New("missing field: timestamp")
	}
	return nil
}
