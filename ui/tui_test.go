package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/franksops/gorelocate/engine"
	"github.com/franksops/gorelocate/store"
)

func TestFormatRate(t *testing.T) {
	tests := []struct {
		perSec   float64
		expected string
	}{
		{0, "0.0 obj/s"},
		{12.34, "12.3 obj/s"},
		{1000, "1.00 k obj/s"},
		{1500, "1.50 k obj/s"},
		{2500000, "2.50 M obj/s"},
	}

	for _, tt := range tests {
		result := formatRate(tt.perSec)
		if result != tt.expected {
			t.Errorf("formatRate(%v) = %v; want %v", tt.perSec, result, tt.expected)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate kept %q", got)
	}
	if got := truncate("abcdefghijklmnop", 10); got != "...jklmnop" {
		t.Errorf("truncate = %q", got)
	}

	name := strings.Repeat("日本語", 10) + ".bin"
	got := truncate(name, 10)
	if !utf8.ValidString(got) {
		t.Errorf("truncate split a multi-byte rune: %q", got)
	}
	if got != "...日本語.bin" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("日本語", 10); got != "日本語" {
		t.Errorf("short multi-byte name changed: %q", got)
	}
}

func TestTUIModelInitialization(t *testing.T) {
	state := &UIState{
		Enumerated: 100,
		Workers:    10,
	}
	model := NewTUIModel(state)

	if model.engineState.Enumerated != 100 {
		t.Errorf("Expected Enumerated 100, got %d", model.engineState.Enumerated)
	}

	view := model.View()
	if !strings.Contains(view, "Initializing...") {
		t.Errorf("Expected Initializing view when width is 0")
	}
}

func TestTUIModelRendersWorkersAndResult(t *testing.T) {
	model := NewTUIModel(&UIState{})
	updated, _ := model.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	updated, _ = updated.Update(TUIUpdateMsg{State: &UIState{
		State:      store.StateStreaming,
		Target:     "/archive",
		Enumerated: 10,
		Moved:      4,
		Workers:    2,
		Active:     []string{"x.bin", ""},
	}})

	view := updated.View()
	for _, want := range []string{"Streaming", "/archive", "x.bin", "Moved 4"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q", want)
		}
	}

	updated, _ = updated.Update(TUIUpdateMsg{State: &UIState{Done: true, Err: errors.New("boom")}})
	if view := updated.View(); !strings.Contains(view, "Relocation failed: boom") {
		t.Errorf("expected failure banner, got %q", view)
	}
}

func TestLineReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewLineReporter(&buf)

	r.Finish(engine.Progress{}, nil)
	if buf.Len() != 0 {
		t.Errorf("expected no output without updates, got %q", buf.String())
	}

	r.Update(engine.Progress{Moved: 3, Skipped: 1, Enumerated: 5, Elapsed: 2 * time.Second})
	r.Update(engine.Progress{Moved: 4, Skipped: 1, Enumerated: 5, Elapsed: 2 * time.Second})
	r.Finish(engine.Progress{Moved: 4, Skipped: 1, Enumerated: 5}, nil)

	out := buf.String()
	if strings.Count(out, "\r") != 3 {
		t.Errorf("expected every update to rewrite the line, got %q", out)
	}
	if !strings.Contains(out, "Moved 3 objects so far (1 already in place, 5 listed, 2.0 obj/s)...") {
		t.Errorf("unexpected progress line %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("expected final newline, got %q", out)
	}
}
