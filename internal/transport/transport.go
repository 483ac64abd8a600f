// Package transport defines the narrow interface to the chat gateway the
// engine sends through, plus an HTTP client implementation. Connection
// mechanics (pairing, session persistence, reconnects) live in the gateway
// itself; the engine only reacts to reported availability.
package transport

import "context"

// Media describes an attachment sent alongside a caption.
type Media struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

// Transport is the per-channel sending interface the engine consumes.
// Implementations report failures as returned errors, never panics, so the
// engine can always record a recipient outcome.
type Transport interface {
	// IsConnected reports whether the channel's session is usable.
	IsConnected(ctx context.Context, channel string) (bool, error)

	// SendText sends a plain text message to the address.
	SendText(ctx context.Context, channel, to, text string) error

	// SendMedia sends a media message with an optional caption.
	SendMedia(ctx context.Context, channel, to string, media Media, caption string) error
}
