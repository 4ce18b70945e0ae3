package ttscache

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), ttl, zerolog.Nop())
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	return c
}

func TestGetAfterPutReturnsIdenticalBytes(t *testing.T) {
	c := newTestCache(t, time.Hour)
	key := Key("Good morning", "es-ES", "es_female_lucia", 1.0, "")
	payload := []byte{0x49, 0x44, 0x33, 0x04, 0x00}

	c.Put(key, payload)

	got, ok := c.Get(key)
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("cached bytes differ: %v vs %v", got, payload)
	}
}

func TestExpiredEntryIsAMiss(t *testing.T) {
	c := newTestCache(t, time.Hour)
	key := Key("Good morning", "fr-FR", "fr_male_henri", 1.0, "")
	c.Put(key, []byte("audio"))

	// Simulated clock two hours ahead of the write.
	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if _, ok := c.Get(key); ok {
		t.Fatalf("expired entry returned a hit")
	}
}

func TestMissingKeyIsAMiss(t *testing.T) {
	c := newTestCache(t, time.Hour)
	if _, ok := c.Get(Key("never stored", "de-DE", "", 1.0, "")); ok {
		t.Fatalf("unexpected hit for missing key")
	}
}

func TestKeyDependsOnSynthesisFields(t *testing.T) {
	base := Key("hello", "es-ES", "voice-a", 1.0, "")
	cases := map[string]string{
		"language": Key("hello", "fr-FR", "voice-a", 1.0, ""),
		"voice":    Key("hello", "es-ES", "voice-b", 1.0, ""),
		"speed":    Key("hello", "es-ES", "voice-a", 1.15, ""),
		"emotion":  Key("hello", "es-ES", "voice-a", 1.0, "excited"),
	}
	for field, other := range cases {
		if other == base {
			t.Fatalf("key ignores %s", field)
		}
	}
}

func TestDuplicatePutIsIdempotent(t *testing.T) {
	c := newTestCache(t, time.Hour)
	key := Key("repeat", "es-ES", "voice-a", 1.0, "")
	c.Put(key, []byte("audio"))
	c.Put(key, []byte("audio"))

	got, ok := c.Get(key)
	if !ok || string(got) != "audio" {
		t.Fatalf("idempotent put broke entry: %q ok=%v", got, ok)
	}
}

func TestSweepRemovesOnlyExpiredEntries(t *testing.T) {
	c := newTestCache(t, time.Hour)
	expired := Key("old", "es-ES", "", 1.0, "")
	fresh := Key("new", "es-ES", "", 1.0, "")
	c.Put(expired, []byte("old"))
	c.Put(fresh, []byte("new"))

	// Age only the first entry.
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(c.path(expired), old, old); err != nil {
		t.Fatalf("Chtimes err: %v", err)
	}

	if removed := c.Sweep(); removed != 1 {
		t.Fatalf("expected 1 removed entry, got %d", removed)
	}
	if _, ok := c.Get(fresh); !ok {
		t.Fatalf("fresh entry swept")
	}
}
