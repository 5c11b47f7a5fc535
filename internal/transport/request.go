// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Request is a streaming request: either a TextRequest or an ImageRequest.
type Request interface {
	// Identity returns the opaque correlation tokens forwarded to the backend.
	Identity() (userID, sessionID string)

	// Empty reports whether the request carries nothing to send.
	Empty() bool

	isRequest()
}

// TextRequest asks the backend to continue the chat with a prompt.
type TextRequest struct {
	Prompt    string
	UserID    string
	SessionID string
}

// ImageRequest asks the backend to analyze a still image.
type ImageRequest struct {
	Image          Image
	AdditionalText string
	UserID         string
	SessionID      string
}

// Image is an encoded still image.
type Image struct {
	Data     []byte
	MIMEType string
	// Filename is sent as the multipart file name. Optional.
	Filename string
}

func (r TextRequest) Identity() (string, string)  { return r.UserID, r.SessionID }
func (r ImageRequest) Identity() (string, string) { return r.UserID, r.SessionID }

// Empty is true for a prompt made only of whitespace.
func (r TextRequest) Empty() bool {
	return strings.TrimSpace(r.Prompt) == ""
}

// Empty is true when no image bytes are attached.
func (r ImageRequest) Empty() bool {
	return len(r.Image.Data) == 0
}

func (TextRequest) isRequest()  {}
func (ImageRequest) isRequest() {}

// NewImage wraps raw image bytes, sniffing the MIME type when it is not given.
func NewImage(data []byte, filename string) Image {
	return Image{
		Data:     data,
		MIMEType: mimetype.Detect(data).String(),
		Filename: filename,
	}
}

// IsImage reports whether the data sniffs as an image format.
func (img Image) IsImage() bool {
	return strings.HasPrefix(img.contentType(), "image/")
}

// contentType returns the image MIME type, sniffing it if unset.
func (img Image) contentType() string {
	if img.MIMEType != "" {
		return img.MIMEType
	}
	return mimetype.Detect(img.Data).String()
}

// fileName returns the multipart file name, deriving one from the MIME type.
func (img Image) fileName() string {
	if img.Filename != "" {
		return img.Filename
	}
	ext := mimetype.Lookup(img.contentType())
	if ext == nil || ext.Extension() == "" {
		return "image"
	}
	return "image" + ext.Extension()
}
