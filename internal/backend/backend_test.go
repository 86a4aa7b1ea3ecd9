package backend

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"sessiontrack/internal/config"
	"sessiontrack/internal/notify"
	"sessiontrack/internal/store/memstore"
)

func TestOpenDrivers(t *testing.T) {
	cases := []struct {
		name    string
		driver  string
		wantErr bool
	}{
		{name: "memory", driver: "memory"},
		{name: "default", driver: ""},
		{name: "case insensitive", driver: " Memory "},
		{name: "unknown", driver: "cassandra", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &config.AppConfig{Store: config.StoreConfig{Driver: tc.driver}}
			b, err := Open(context.Background(), cfg, zerolog.Nop())
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer b.Close()
			if _, ok := b.Store.(*memstore.Store); !ok {
				t.Fatalf("expected memstore, got %T", b.Store)
			}
			if len(b.Pingers) != 0 {
				t.Fatalf("expected no pingers, got %d", len(b.Pingers))
			}
		})
	}
}

func TestNotifierWithoutChannels(t *testing.T) {
	ch, pingers, err := Notifier(context.Background(), &config.AppConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	if _, ok := ch.(notify.Noop); !ok {
		t.Fatalf("expected Noop channel, got %T", ch)
	}
	if len(pingers) != 0 {
		t.Fatalf("expected no pingers, got %d", len(pingers))
	}
}

func TestNotifierTelegram(t *testing.T) {
	cfg := &config.AppConfig{}
	cfg.Notify.Telegram = config.TelegramConfig{BotToken: "t", ChatID: "1", APIBase: "http://127.0.0.1:1"}
	ch, _, err := Notifier(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	if _, ok := ch.(*notify.Telegram); !ok {
		t.Fatalf("expected Telegram channel, got %T", ch)
	}
}
