// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"fmt"

	"github.com/jeranaias/tongue-chat/internal/stream"
)

// =============================================================================
// RELAY WIRE PROTOCOL
// =============================================================================

// Relay message types. The client sends start and cancel; the bridge answers
// with chunk, status, done and error, each tagged with the request channel.
const (
	MsgStart  = "start"
	MsgCancel = "cancel"
	MsgChunk  = "chunk"
	MsgStatus = "status"
	MsgDone   = "done"
	MsgError  = "error"
)

// Request kinds carried in a start message.
const (
	KindText  = "text"
	KindImage = "image"
)

// RelayMessage is one JSON message on the relay websocket.
type RelayMessage struct {
	Type    string        `json:"type"`
	Channel string        `json:"channel"`
	Request *RelayRequest `json:"request,omitempty"`
	Content string        `json:"content,omitempty"`
	Message string        `json:"message,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// RelayRequest is the request payload of a start message. Image bytes are
// base64 encoded by encoding/json.
type RelayRequest struct {
	Kind           string `json:"kind"`
	Prompt         string `json:"prompt,omitempty"`
	Image          []byte `json:"image,omitempty"`
	MIMEType       string `json:"mime_type,omitempty"`
	Filename       string `json:"filename,omitempty"`
	AdditionalInfo string `json:"additional_info,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
}

// EncodeRequest converts a Request into its wire form.
func EncodeRequest(req Request) (*RelayRequest, error) {
	switch r := req.(type) {
	case TextRequest:
		return &RelayRequest{
			Kind:      KindText,
			Prompt:    r.Prompt,
			UserID:    r.UserID,
			SessionID: r.SessionID,
		}, nil
	case ImageRequest:
		return &RelayRequest{
			Kind:           KindImage,
			Image:          r.Image.Data,
			MIMEType:       r.Image.contentType(),
			Filename:       r.Image.Filename,
			AdditionalInfo: r.AdditionalText,
			UserID:         r.UserID,
			SessionID:      r.SessionID,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported request type %T", req)
	}
}

// Decode converts a wire request back into a Request.
func (r *RelayRequest) Decode() (Request, error) {
	if r == nil {
		return nil, fmt.Errorf("start message without request")
	}
	switch r.Kind {
	case KindText:
		return TextRequest{Prompt: r.Prompt, UserID: r.UserID, SessionID: r.SessionID}, nil
	case KindImage:
		return ImageRequest{
			Image:          Image{Data: r.Image, MIMEType: r.MIMEType, Filename: r.Filename},
			AdditionalText: r.AdditionalInfo,
			UserID:         r.UserID,
			SessionID:      r.SessionID,
		}, nil
	default:
		return nil, fmt.Errorf("unknown request kind %q", r.Kind)
	}
}

// EventMessage wraps a decoded event for delivery on channel.
func EventMessage(channel string, ev stream.Event) RelayMessage {
	msg := RelayMessage{Channel: channel}
	switch e := ev.(type) {
	case stream.Content:
		msg.Type, msg.Content = MsgChunk, e.Text
	case stream.Status:
		msg.Type, msg.Message = MsgStatus, e.Label
	case stream.Done:
		msg.Type = MsgDone
	case stream.Error:
		msg.Type, msg.Error = MsgError, e.Message
	}
	return msg
}

// Event converts a bridge message back into a stream event.
func (m RelayMessage) Event() (stream.Event, error) {
	switch m.Type {
	case MsgChunk:
		return stream.Content{Text: m.Content}, nil
	case MsgStatus:
		return stream.Status{Label: m.Message}, nil
	case MsgDone:
		return stream.Done{}, nil
	case MsgError:
		if m.Error == "" {
			return stream.Error{Message: "unknown error"}, nil
		}
		return stream.Error{Message: m.Error}, nil
	default:
		return nil, fmt.Errorf("unexpected message type %q", m.Type)
	}
}
