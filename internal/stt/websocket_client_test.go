package stt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{}

// fakeUpstream speaks the server side of the realtime protocol. Each
// end_of_segment is answered with an interim and a final echoing the number
// of audio bytes received for the segment.
func fakeUpstream(t *testing.T, onSetup func(controlMessage) *serverMessage) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var setup controlMessage
		if err := conn.ReadJSON(&setup); err != nil {
			return
		}
		reply := &serverMessage{Type: msgReady}
		if onSetup != nil {
			reply = onSetup(setup)
		}
		if err := conn.WriteJSON(reply); err != nil || reply.Type != msgReady {
			return
		}

		received := 0
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				received += len(data)
				continue
			}
			var ctl controlMessage
			_ = json.Unmarshal(data, &ctl)
			switch ctl.Type {
			case msgEndOfSegment:
				text := strings.Repeat("x", received)
				conn.WriteJSON(serverMessage{Type: msgInterim, Text: text[:received/2]})
				conn.WriteJSON(serverMessage{Type: msgFinal, Text: text})
				received = 0
			case msgTerminate:
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialTest(t *testing.T, srv *httptest.Server, key string) (Stream, error) {
	t.Helper()
	client := NewWebSocketClient(WebSocketConfig{
		URL:        wsURL(srv),
		APIKey:     key,
		SampleRate: 16000,
		Logger:     zerolog.Nop(),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return client.Dial(ctx, "en")
}

func nextEvent(t *testing.T, s Stream) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestWebSocketClient_SegmentRoundTrip(t *testing.T) {
	var gotSetup controlMessage
	srv := fakeUpstream(t, func(m controlMessage) *serverMessage {
		gotSetup = m
		return &serverMessage{Type: msgReady}
	})
	defer srv.Close()

	s, err := dialTest(t, srv, "test-key")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer s.Close()

	if gotSetup.Type != msgSetup || gotSetup.Language != "en" || gotSetup.SampleRate != 16000 || gotSetup.Encoding != encodingPCM16 {
		t.Errorf("Unexpected setup message %+v", gotSetup)
	}

	for i := 0; i < 2; i++ {
		if err := s.SendAudio(make([]byte, 4)); err != nil {
			t.Fatalf("SendAudio failed: %v", err)
		}
	}
	if err := s.EndSegment(); err != nil {
		t.Fatalf("EndSegment failed: %v", err)
	}

	interim := nextEvent(t, s)
	if interim.Kind != EventInterim || interim.Text != "xxxx" {
		t.Errorf("Expected interim 'xxxx', got %s %q", interim.Kind, interim.Text)
	}
	final := nextEvent(t, s)
	if final.Kind != EventFinal || final.Text != "xxxxxxxx" {
		t.Errorf("Expected final of 8 chars, got %s %q", final.Kind, final.Text)
	}
}

func TestWebSocketClient_HandshakeUnauthorized(t *testing.T) {
	srv := fakeUpstream(t, nil)
	defer srv.Close()

	_, err := dialTest(t, srv, "wrong-key")
	if !errors.Is(err, ErrQuotaOrAuth) {
		t.Errorf("Expected ErrQuotaOrAuth, got %v", err)
	}
}

func TestWebSocketClient_SetupRejected(t *testing.T) {
	srv := fakeUpstream(t, func(controlMessage) *serverMessage {
		return &serverMessage{Type: msgError, Code: 429, Message: "quota exceeded"}
	})
	defer srv.Close()

	_, err := dialTest(t, srv, "test-key")
	if !IsQuotaOrAuth(err) {
		t.Errorf("Expected quota error, got %v", err)
	}
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) || upstreamErr.Code != 429 {
		t.Errorf("Expected UpstreamError with code 429, got %v", err)
	}
}

func TestWebSocketClient_ServerDisconnectIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var setup controlMessage
		conn.ReadJSON(&setup)
		conn.WriteJSON(serverMessage{Type: msgReady})
		conn.Close()
	}))
	defer srv.Close()

	s, err := dialTest(t, srv, "test-key")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer s.Close()

	ev := nextEvent(t, s)
	if ev.Kind != EventError || !errors.Is(ev.Err, ErrTransport) {
		t.Errorf("Expected transport error event, got %s %v", ev.Kind, ev.Err)
	}
}

func TestWebSocketClient_SendAfterClose(t *testing.T) {
	srv := fakeUpstream(t, nil)
	defer srv.Close()

	s, err := dialTest(t, srv, "test-key")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
	if err := s.SendAudio([]byte{0, 0}); !errors.Is(err, ErrTransport) {
		t.Errorf("Expected ErrTransport after close, got %v", err)
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		code      int
		wantQuota bool
	}{
		{401, true},
		{402, true},
		{403, true},
		{429, true},
		{500, false},
		{1011, false},
	}
	for _, tt := range tests {
		err := NewUpstreamError(tt.code, "x")
		if IsQuotaOrAuth(err) != tt.wantQuota {
			t.Errorf("code %d: expected quota=%v", tt.code, tt.wantQuota)
		}
		if !tt.wantQuota && !errors.Is(err, ErrTransport) {
			t.Errorf("code %d: expected transport class", tt.code)
		}
	}

	if ErrorClass(context.DeadlineExceeded) != "timeout" {
		t.Errorf("Expected timeout class")
	}
	if ErrorClass(NewUpstreamError(403, "x")) != "quota_auth" {
		t.Errorf("Expected quota_auth class")
	}
}
