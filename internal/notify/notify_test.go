package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTelegramSend(t *testing.T) {
	var gotPath, gotChat, gotText, gotMode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotPath = r.URL.Path
		gotChat = r.PostForm.Get("chat_id")
		gotText = r.PostForm.Get("text")
		gotMode = r.PostForm.Get("parse_mode")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram(srv.Client(), srv.URL+"/", "T0KEN", "42")
	if err := tg.Send(context.Background(), "Logout Request\nCode: 123456"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/botT0KEN/sendMessage" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotChat != "42" || gotMode != "Markdown" || !strings.Contains(gotText, "123456") {
		t.Fatalf("unexpected form chat=%q mode=%q text=%q", gotChat, gotMode, gotText)
	}
}

func TestTelegramRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	err := NewTelegram(srv.Client(), srv.URL, "t", "c").Send(context.Background(), "hi")
	if !errors.Is(err, ErrTelegramRejected) || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected rejection, got %v", err)
	}
}

type recordingPutter struct {
	keys   []string
	bodies []string
	err    error
}

func (p *recordingPutter) Put(_ context.Context, key, _ string, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.bodies = append(p.bodies, string(body))
	return nil
}

func TestArchiveKeyLayout(t *testing.T) {
	p := &recordingPutter{}
	now := time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)
	a := NewArchive(p, func() time.Time { return now })
	if err := a.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(p.keys) != 1 || !strings.HasPrefix(p.keys[0], "notifications/2024/03/07/") || !strings.HasSuffix(p.keys[0], ".txt") {
		t.Fatalf("unexpected keys %v", p.keys)
	}
	if p.bodies[0] != "hello" {
		t.Fatalf("unexpected body %q", p.bodies[0])
	}
}

type countingChannel struct {
	calls int
	err   error
}

func (c *countingChannel) Send(context.Context, string) error {
	c.calls++
	return c.err
}

func TestFanoutSendsToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	first := &countingChannel{err: boom}
	second := &countingChannel{}
	err := Combine(first, second).Send(context.Background(), "x")
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("expected both channels to be called, got %d/%d", first.calls, second.calls)
	}
	if _, ok := Combine().(Noop); !ok {
		t.Fatal("expected Noop for no channels")
	}
	if Combine(second) != Channel(second) {
		t.Fatal("expected single channel to be returned as is")
	}
}
