// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/jeranaias/tongue-chat/internal/locale"
	"github.com/jeranaias/tongue-chat/internal/stream"
)

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 64 * 1024

// =============================================================================
// DIRECT CONFIGURATION
// =============================================================================

// DirectConfig holds configuration for the direct HTTP transport.
type DirectConfig struct {
	// BaseURL is the backend address (default: http://127.0.0.1:8000)
	BaseURL string

	// ChatPath is the text chat stream endpoint (default: /chat/stream)
	ChatPath string

	// ImagePath is the image analysis stream endpoint
	// (default: /tongue/predict-and-analyze/stream)
	ImagePath string

	// HealthPath is probed by Health (default: /health)
	HealthPath string

	// ConnectTimeout bounds dialing only; streams themselves have no deadline.
	ConnectTimeout time.Duration

	// HTTPClient overrides the streaming client. Optional.
	HTTPClient *http.Client
}

// DefaultDirectConfig returns the default direct transport configuration.
func DefaultDirectConfig() DirectConfig {
	return DirectConfig{
		BaseURL:        "http://127.0.0.1:8000",
		ChatPath:       "/chat/stream",
		ImagePath:      "/tongue/predict-and-analyze/stream",
		HealthPath:     "/health",
		ConnectTimeout: 10 * time.Second,
	}
}

// =============================================================================
// DIRECT TRANSPORT
// =============================================================================

// Direct streams requests straight from the backend over HTTP and decodes
// the response body in process. It is safe for concurrent use.
type Direct struct {
	config  DirectConfig
	client  *http.Client
	printer *locale.Printer
}

// NewDirect creates a direct transport, filling zero config values with defaults.
func NewDirect(config DirectConfig, printer *locale.Printer) *Direct {
	defaults := DefaultDirectConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.ChatPath == "" {
		config.ChatPath = defaults.ChatPath
	}
	if config.ImagePath == "" {
		config.ImagePath = defaults.ImagePath
	}
	if config.HealthPath == "" {
		config.HealthPath = defaults.HealthPath
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if printer == nil {
		printer = locale.New(locale.Default)
	}

	client := config.HTTPClient
	if client == nil {
		// No overall timeout: the stream lifetime is controlled via context.
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: config.ConnectTimeout}).DialContext,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &Direct{
		config:  config,
		client:  client,
		printer: printer,
	}
}

// Name implements Transport.
func (d *Direct) Name() string {
	return "direct"
}

// BaseURL returns the backend address requests are sent to.
func (d *Direct) BaseURL() string {
	return d.config.BaseURL
}

// Open implements Transport. The returned CancelFunc aborts the request and
// closes the response body; the read loop then exits without emitting.
func (d *Direct) Open(ctx context.Context, req Request, onEvent EventFunc) CancelFunc {
	ctx, cancel := context.WithCancel(ctx)

	var (
		cancelled atomic.Bool
		once      sync.Once
		bodyMu    sync.Mutex
		body      io.ReadCloser
	)

	stop := func() {
		once.Do(func() {
			cancelled.Store(true)
			cancel()
			bodyMu.Lock()
			if body != nil {
				body.Close()
			}
			bodyMu.Unlock()
		})
	}

	// emit forwards ev unless the stream was torn down, and reports whether
	// reading should continue.
	emit := func(ev stream.Event) bool {
		if cancelled.Load() || ctx.Err() != nil {
			return false
		}
		onEvent(ev)
		return !stream.IsTerminal(ev)
	}

	go func() {
		defer cancel()

		if req.Empty() {
			emit(stream.Error{Message: d.printer.EmptyInput()})
			return
		}

		httpReq, err := d.newRequest(ctx, req)
		if err != nil {
			emit(stream.Error{Message: err.Error()})
			return
		}

		log.Debug().
			Str("transport", d.Name()).
			Str("url", httpReq.URL.String()).
			Msg("opening stream")

		resp, err := d.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			terr := d.describe(err)
			log.Error().Err(err).Str("url", httpReq.URL.String()).Stringer("kind", terr.Kind).Msg("stream request failed")
			emit(stream.Error{Message: terr.Message})
			return
		}

		bodyMu.Lock()
		body = resp.Body
		bodyMu.Unlock()
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			terr := d.statusError(resp)
			log.Error().Int("status", resp.StatusCode).Str("url", httpReq.URL.String()).Msg("backend returned error status")
			emit(stream.Error{Message: terr.Message})
			return
		}

		for ev := range stream.Events(resp.Body) {
			if !emit(ev) {
				return
			}
		}
	}()

	return stop
}

// Health probes the backend health endpoint.
func (d *Direct) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.config.BaseURL+d.config.HealthPath, nil)
	if err != nil {
		return &Error{Kind: KindUnknown, Message: "failed to create request", Cause: err}
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return d.describe(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return d.statusError(resp)
	}
	return nil
}

// =============================================================================
// REQUEST BUILDING
// =============================================================================

type chatBody struct {
	Prompt    string `json:"prompt"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (d *Direct) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	var (
		url         string
		payload     []byte
		contentType string
	)

	switch r := req.(type) {
	case TextRequest:
		b, err := json.Marshal(chatBody{Prompt: r.Prompt, UserID: r.UserID, SessionID: r.SessionID})
		if err != nil {
			return nil, &Error{Kind: KindValidation, Message: "failed to marshal request", Cause: err}
		}
		url, payload, contentType = d.config.BaseURL+d.config.ChatPath, b, "application/json"

	case ImageRequest:
		b, ct, err := encodeMultipart(r)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Message: "failed to encode image upload", Cause: err}
		}
		url, payload, contentType = d.config.BaseURL+d.config.ImagePath, b, ct

	default:
		return nil, &Error{Kind: KindValidation, Message: fmt.Sprintf("unsupported request type %T", req)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	return httpReq, nil
}

// encodeMultipart builds the image upload form: a binary file part plus
// optional additional_info and the correlation tokens.
func encodeMultipart(r ImageRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, r.Image.fileName()))
	header.Set("Content-Type", r.Image.contentType())
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(r.Image.Data); err != nil {
		return nil, "", err
	}

	fields := []struct{ name, value string }{
		{"additional_info", r.AdditionalText},
		{"user_id", r.UserID},
		{"session_id", r.SessionID},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			continue
		}
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// describe converts a client.Do failure into a transport Error. Refused or
// unresolvable connections name the backend address.
func (d *Direct) describe(err error) *Error {
	if isConnectionFailure(err) {
		return &Error{Kind: KindUnreachable, Message: d.printer.Unreachable(d.config.BaseURL), Cause: err}
	}
	return &Error{Kind: KindUnknown, Message: "request failed: " + err.Error(), Cause: err}
}

// statusError reads a failed response body and extracts its message.
func (d *Direct) statusError(resp *http.Response) *Error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := errorDetail(data)
	if msg == "" {
		msg = d.printer.HTTPStatus(resp.StatusCode)
	}
	return &Error{Kind: KindHTTPStatus, StatusCode: resp.StatusCode, Message: msg}
}

// errorDetail extracts a message from an error body: the JSON detail field
// (string or object), then error or message, else the raw text.
func errorDetail(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return ""
	}
	if !gjson.Valid(text) {
		return text
	}

	rec := gjson.Parse(text)
	if !rec.IsObject() {
		return text
	}
	for _, key := range []string{"detail", "error", "message"} {
		v := rec.Get(key)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if v.IsObject() {
			for _, inner := range []string{"message", "error"} {
				if s := v.Get(inner).String(); s != "" {
					return s
				}
			}
			return v.Raw
		}
		if v.IsArray() {
			// Validation failures arrive as a list of {"msg": ...} entries.
			if msgs := v.Get("#.msg"); len(msgs.Array()) > 0 {
				parts := make([]string, 0, len(msgs.Array()))
				for _, m := range msgs.Array() {
					parts = append(parts, m.String())
				}
				return strings.Join(parts, "; ")
			}
			return v.Raw
		}
		if s := v.String(); s != "" {
			return s
		}
	}
	return text
}
