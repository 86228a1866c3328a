package recordbase

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestKeyBuilder(t *testing.T) {
	kb := KeyBuilder{Prefix: "records", Suffix: ".json"}

	if got := kb.Key("abc"); got != "records/abc.json" {
		t.Errorf("Key = %q", got)
	}
	if got := kb.Dir(); got != "records/" {
		t.Errorf("Dir = %q", got)
	}

	tests := []struct {
		key    string
		wantID string
		wantOK bool
	}{
		{"records/abc.json", "abc", true},
		{"records/abc.txt", "", false},
		{"backups/abc.json", "", false},
		{"records/.json", "", false},
		{"records/nested/abc.json", "", false},
	}
	for _, tt := range tests {
		id, ok := kb.ID(tt.key)
		if id != tt.wantID || ok != tt.wantOK {
			t.Errorf("ID(%q) = %q, %v; want %q, %v", tt.key, id, ok, tt.wantID, tt.wantOK)
		}
	}

	bare := KeyBuilder{Prefix: "locks"}
	if got := bare.Key("x"); got != "locks/x" {
		t.Errorf("Key without suffix = %q", got)
	}
	if id, ok := bare.ID("locks/x"); !ok || id != "x" {
		t.Errorf("ID without suffix = %q, %v", id, ok)
	}
}

func TestChunk(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	got := chunk(items, 2)
	if len(got) != 3 || len(got[0]) != 2 || len(got[2]) != 1 || got[2][0] != 5 {
		t.Errorf("chunk(5, 2) = %v", got)
	}
	if got := chunk(items, 10); len(got) != 1 || len(got[0]) != 5 {
		t.Errorf("chunk(5, 10) = %v", got)
	}
	if got := chunk([]int{}, 3); len(got) != 0 {
		t.Errorf("chunk of empty = %v", got)
	}
	if got := chunk(items, 0); len(got) != 1 {
		t.Errorf("non-positive size should use the default batch size, got %v", got)
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := sleepContext(context.Background(), 0); err != nil {
		t.Errorf("zero delay: expected nil, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled sleep should return immediately")
	}
}
