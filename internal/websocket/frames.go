// Package websocket keeps the persistent backend connection: registration,
// framing, ping/pong liveness, reconnects and queuing while disconnected.
package websocket

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/mattjoyce/autoclient/internal/automation"
)

// FrameKind is the decoded variant of an incoming frame.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FramePing
	FramePong
	FrameControl
	FrameCommand
	FrameEvent
)

func (k FrameKind) String() string {
	switch k {
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	case FrameControl:
		return "control"
	case FrameCommand:
		return "command"
	case FrameEvent:
		return "event"
	}
	return "unknown"
}

var ErrUnknownFrame = errors.New("unrecognized frame")

// Control is an out-of-band instruction, such as a backoff request.
type Control struct {
	Name     string `json:"name"`
	Duration int64  `json:"duration,omitempty"` // milliseconds
}

// Frame is one decoded incoming frame. The field matching Kind is set.
type Frame struct {
	Kind    FrameKind
	Ping    int64
	Pong    int64
	Control *Control
	Command *automation.Command
	Event   *automation.Event
}

// probe carries just enough of a frame to decide its variant.
type probe struct {
	Ping       *int64          `json:"ping"`
	Pong       *int64          `json:"pong"`
	Control    *Control        `json:"control"`
	Command    *string         `json:"command"`
	Extensions json.RawMessage `json:"extensions"`
	Data       json.RawMessage `json:"data"`
}

var gzipMagic = []byte{0x1f, 0x8b}

// DecodeFrame classifies and decodes data, transparently gunzipping it.
// Frames that match no variant yield ErrUnknownFrame.
func DecodeFrame(data []byte) (*Frame, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		plain, err := gunzip(data)
		if err != nil {
			return nil, err
		}
		data = plain
	}

	var p probe
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch {
	case p.Ping != nil:
		return &Frame{Kind: FramePing, Ping: *p.Ping}, nil
	case p.Pong != nil:
		return &Frame{Kind: FramePong, Pong: *p.Pong}, nil
	case p.Control != nil:
		return &Frame{Kind: FrameControl, Control: p.Control}, nil
	case p.Command != nil:
		var cmd automation.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode command: %w", err)
		}
		cmd.Context = nil
		return &Frame{Kind: FrameCommand, Command: &cmd}, nil
	case len(p.Extensions) > 0 && len(p.Data) > 0:
		var ev automation.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		ev.Context = nil
		return &Frame{Kind: FrameEvent, Event: &ev}, nil
	}
	return nil, ErrUnknownFrame
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip frame: %w", err)
	}
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read gzip frame: %w", err)
	}
	return plain, nil
}

// Gzip compresses an outgoing frame.
func Gzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("gzip frame: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip frame: %w", err)
	}
	return buf.Bytes(), nil
}

// PingFrame and friends build the small control frames of the protocol.
func PingFrame(n int64) any { return map[string]int64{"ping": n} }

func PongFrame(n int64) any { return map[string]int64{"pong": n} }

func BackoffFrame(durationMs int64) any {
	return map[string]Control{"control": {Name: "backoff", Duration: durationMs}}
}
