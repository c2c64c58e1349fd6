package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeSocket struct {
	mu       sync.Mutex
	messages [][]byte
	controls []int
}

func (f *fakeSocket) SetWriteDeadline(t time.Time) error { return nil }

func (f *fakeSocket) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, append([]byte(nil), data...))
	return nil
}

func (f *fakeSocket) WriteControl(messageType int, data []byte, deadline time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, messageType)
	return nil
}

func (f *fakeSocket) Close() error { return nil }

func (f *fakeSocket) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.messages))
	copy(out, f.messages)
	return out
}

func runWriter(t *testing.T, sock Socket, priority, normal chan outboundFrame, isCanceled func(uint64) bool) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	w := &outboundWriter{
		ws:         sock,
		ctx:        ctx,
		cfg:        writerConfig{pingInterval: time.Hour, writeTimeout: time.Second},
		priority:   priority,
		normal:     normal,
		isCanceled: isCanceled,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run()
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestWriterDeliversFrames(t *testing.T) {
	sock := &fakeSocket{}
	priority := make(chan outboundFrame, 4)
	normal := make(chan outboundFrame, 4)
	stop := runWriter(t, sock, priority, normal, nil)

	normal <- outboundFrame{payload: []byte(`{"type":"response_chunk"}`)}
	priority <- outboundFrame{payload: []byte(`{"type":"warning"}`)}

	deadline := time.Now().Add(time.Second)
	for len(sock.written()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("frames written = %d, want 2", len(sock.written()))
		}
		time.Sleep(time.Millisecond)
	}
	stop()
}

func TestWriterExitsWhenChannelsClose(t *testing.T) {
	sock := &fakeSocket{}
	priority := make(chan outboundFrame)
	normal := make(chan outboundFrame)

	ctx := context.Background()
	w := &outboundWriter{
		ws:       sock,
		ctx:      ctx,
		cfg:      writerConfig{pingInterval: time.Hour, writeTimeout: time.Second},
		priority: priority,
		normal:   normal,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run()
	}()

	close(priority)
	close(normal)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writer did not exit after channels closed")
	}
}

func TestWriterSkipsCanceledAudio(t *testing.T) {
	sock := &fakeSocket{}
	priority := make(chan outboundFrame, 4)
	normal := make(chan outboundFrame, 4)
	stop := runWriter(t, sock, priority, normal, func(turn uint64) bool { return turn == 1 })

	normal <- outboundFrame{payload: []byte(`stale`), audioTurn: 1}
	normal <- outboundFrame{payload: []byte(`live`), audioTurn: 2}

	deadline := time.Now().Add(time.Second)
	for len(sock.written()) < 1 {
		if time.Now().After(deadline) {
			t.Fatal("no frame written")
		}
		time.Sleep(time.Millisecond)
	}
	stop()

	for _, msg := range sock.written() {
		if string(msg) == "stale" {
			t.Fatal("canceled audio frame was written")
		}
	}
}

func TestWriterSendsCloseOnShutdown(t *testing.T) {
	sock := &fakeSocket{}
	priority := make(chan outboundFrame, 4)
	normal := make(chan outboundFrame, 4)
	stop := runWriter(t, sock, priority, normal, nil)

	priority <- outboundFrame{payload: []byte(`{"type":"session_ended"}`)}
	stop()

	sock.mu.Lock()
	defer sock.mu.Unlock()
	found := false
	for _, typ := range sock.controls {
		if typ == websocket.CloseMessage {
			found = true
		}
	}
	if !found {
		t.Fatal("no close message sent on shutdown")
	}
}
