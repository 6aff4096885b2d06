package file

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-lingua/internal/pkg/config"
)

func TestNewProvider_EmptyPath(t *testing.T) {
	if _, err := NewProvider(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestProvider_LoadAndWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	write := func(port int) {
		t.Helper()
		body := []byte("server:\n  port: " + strconv.Itoa(port) + "\n")
		if err := os.WriteFile(path, body, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write(8100)

	p, err := NewProvider(path)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := p.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8100 {
		t.Fatalf("port = %d, want 8100", cfg.Server.Port)
	}

	changed := make(chan *config.Config, 4)
	if err := p.Watch(ctx, func(c *config.Config) { changed <- c }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	write(8200)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changed:
			if c.Server.Port == 8200 {
				if p.Current().Server.Port != 8200 {
					t.Error("Current() not updated after reload")
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}

func TestProvider_BadReloadKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8100\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := NewProvider(path, WithDebounce(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := p.Load(ctx); err != nil {
		t.Fatal(err)
	}

	changed := make(chan *config.Config, 4)
	if err := p.Watch(ctx, func(c *config.Config) { changed <- c }); err != nil {
		t.Fatal(err)
	}
	if err := p.Watch(ctx, func(*config.Config) {}); err == nil {
		t.Error("second Watch() should fail")
	}

	if err := os.WriteFile(path, []byte("server: [unclosed\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changed:
		t.Fatalf("onChange called with unparsable file: %+v", c.Server)
	case <-time.After(300 * time.Millisecond):
	}
	if got := p.Current().Server.Port; got != 8100 {
		t.Errorf("Current().Server.Port = %d, want 8100", got)
	}
}
