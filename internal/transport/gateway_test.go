package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGatewayIsConnected(t *testing.T) {
	var gotAuth, gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(statusResponse{Connected: true})
	}))
	defer ts.Close()

	g := NewGateway(ts.URL, "secret", time.Second)
	connected, err := g.IsConnected(context.Background(), "ch1")
	if err != nil {
		t.Fatalf("IsConnected() error: %v", err)
	}
	if !connected {
		t.Error("connected = false, want true")
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotPath != "/api/v1/channels/ch1/status" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestGatewaySendText(t *testing.T) {
	var got sendMessageRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	g := NewGateway(ts.URL, "secret", time.Second)
	if err := g.SendText(context.Background(), "ch1", "+15550001", "Hello Ravi"); err != nil {
		t.Fatalf("SendText() error: %v", err)
	}
	if got.To != "+15550001" || got.Text != "Hello Ravi" {
		t.Errorf("request = %+v", got)
	}
}

func TestGatewaySendMedia(t *testing.T) {
	var got sendMessageRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	g := NewGateway(ts.URL, "secret", time.Second)
	media := Media{URL: "https://cdn.example.com/p.jpg", MimeType: "image/jpeg"}
	if err := g.SendMedia(context.Background(), "ch1", "+15550001", media, "New arrivals"); err != nil {
		t.Fatalf("SendMedia() error: %v", err)
	}
	if got.MediaURL != media.URL || got.MimeType != media.MimeType || got.Caption != "New arrivals" {
		t.Errorf("request = %+v", got)
	}
	if got.Text != "" {
		t.Errorf("text set on media send: %q", got.Text)
	}
}

func TestGatewayErrorResponses(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(errorResponse{Error: "session closed"})
	}))
	defer ts.Close()

	g := NewGateway(ts.URL, "secret", time.Second)
	err := g.SendText(context.Background(), "ch1", "+1", "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "session closed") {
		t.Errorf("error = %v, want gateway message", err)
	}

	// Non-JSON error bodies still surface the status code.
	ts2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer ts2.Close()

	g2 := NewGateway(ts2.URL, "secret", time.Second)
	err = g2.SendText(context.Background(), "ch1", "+1", "hi")
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("error = %v, want HTTP 502", err)
	}
}

func TestGatewayContextCancellation(t *testing.T) {
	// The handler must unblock once the client gives up, or ts.Close would
	// wait forever on the still-active connection.
	unblock := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-unblock:
		}
	}))
	defer ts.Close()

	g := NewGateway(ts.URL, "secret", time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := g.SendText(ctx, "ch1", "+1", "hi")
	close(unblock)
	if err == nil {
		t.Error("expected error from cancelled context")
	}
}
