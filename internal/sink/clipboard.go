// Package sink inserts dictated text into the focused application.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/micmonay/keybd_event"
)

// Board is the system clipboard.
type Board interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

// Keystroker sends the paste shortcut to the focused window.
type Keystroker interface {
	Paste() error
}

type systemBoard struct{}

func (systemBoard) ReadAll() (string, error)   { return clipboard.ReadAll() }
func (systemBoard) WriteAll(text string) error { return clipboard.WriteAll(text) }

type keyboard struct {
	modifier string
	once     sync.Once
	kb       keybd_event.KeyBonding
	err      error
}

func (k *keyboard) Paste() error {
	k.once.Do(func() {
		k.kb, k.err = keybd_event.NewKeyBonding()
	})
	if k.err != nil {
		return fmt.Errorf("init keyboard: %w", k.err)
	}
	k.kb.Clear()
	if k.modifier == "ctrl" {
		k.kb.HasCTRL(true)
	} else {
		k.kb.HasSuper(true)
	}
	k.kb.SetKeys(keybd_event.VK_V)
	return k.kb.Launching()
}

// Clipboard pastes text by placing it on the clipboard and sending the paste
// shortcut, then optionally restores what was on the clipboard before.
type Clipboard struct {
	board   Board
	keys    Keystroker
	cfg     config.SinkConfig
	log     *slog.Logger
	mu      sync.Mutex
	pasteIn time.Duration
	restore time.Duration
}

func NewClipboard(cfg config.SinkConfig, logger *slog.Logger) *Clipboard {
	return NewClipboardWith(cfg, systemBoard{}, &keyboard{modifier: cfg.PasteModifier}, logger)
}

// NewClipboardWith uses the given clipboard and keyboard, which is how tests
// avoid touching the desktop.
func NewClipboardWith(cfg config.SinkConfig, board Board, keys Keystroker, logger *slog.Logger) *Clipboard {
	return &Clipboard{
		board:   board,
		keys:    keys,
		cfg:     cfg,
		log:     logger.With(slog.String("component", "sink")),
		pasteIn: time.Duration(cfg.PasteDelayMS) * time.Millisecond,
		restore: time.Duration(cfg.RestoreDelayMS) * time.Millisecond,
	}
}

func (c *Clipboard) Insert(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var original string
	if c.cfg.RestoreClipboard {
		prev, err := c.board.ReadAll()
		if err != nil {
			c.log.Debug("clipboard read failed", slog.String("error", err.Error()))
		}
		original = prev
	}

	if err := c.board.WriteAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	if err := sleep(ctx, c.pasteIn); err != nil {
		return err
	}
	if err := c.keys.Paste(); err != nil {
		return fmt.Errorf("send paste shortcut: %w", err)
	}

	if !c.cfg.RestoreClipboard {
		return nil
	}
	if err := sleep(ctx, c.restore); err != nil {
		return err
	}
	if err := c.board.WriteAll(original); err != nil {
		c.log.Warn("clipboard restore failed", slog.String("error", err.Error()))
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
