package cache

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newCache(t *testing.T, maxBytes int64) (*Cache, string) {
	t.Helper()
	dir := t.TempDir()
	c, err := New(dir, maxBytes, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, dir
}

func TestPutAndGet(t *testing.T) {
	c, _ := newCache(t, 1024)

	data := []byte("sentence audio")
	if err := c.Put("k", data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok := c.Get("k")
	if !ok {
		t.Fatal("Get returned false, want true")
	}
	if string(got) != string(data) {
		t.Errorf("Get = %q, want %q", got, data)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) = true")
	}
	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Entries != 1 || st.Bytes != int64(len(data)) {
		t.Errorf("Stats = %+v", st)
	}
}

func TestLeastRecentlyUsedEvicted(t *testing.T) {
	c, _ := newCache(t, 150)

	c.Put("old", make([]byte, 50))
	c.Put("mid", make([]byte, 50))
	c.Put("new", make([]byte, 50))

	if _, ok := c.Get("old"); !ok {
		t.Fatal("old missing before eviction")
	}
	c.Put("extra", make([]byte, 50))

	if _, ok := c.Get("mid"); ok {
		t.Error("mid should have been evicted as least recently used")
	}
	for _, k := range []string{"old", "new", "extra"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
	if st := c.Stats(); st.Bytes != 150 {
		t.Errorf("Bytes = %d, want 150", st.Bytes)
	}
}

func TestOversizedAndEmptySkipped(t *testing.T) {
	c, _ := newCache(t, 10)
	if err := c.Put("big", make([]byte, 11)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put("empty", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if st := c.Stats(); st.Entries != 0 {
		t.Errorf("Entries = %d, want 0", st.Entries)
	}
}

func TestOverwriteReplacesSize(t *testing.T) {
	c, _ := newCache(t, 100)
	c.Put("k", make([]byte, 40))
	c.Put("k", make([]byte, 70))
	st := c.Stats()
	if st.Entries != 1 || st.Bytes != 70 {
		t.Errorf("Stats = %+v, want 1 entry of 70 bytes", st)
	}
}

func TestRestoreFromDisk(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 1024, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Put("first", []byte("one"))
	c.Put("second", []byte("two"))

	// Leftover temp files from a crashed write are discarded.
	if err := os.WriteFile(filepath.Join(dir, "clip-123.tmp"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	c2, err := New(dir, 1024, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := c2.Get("second")
	if !ok || string(got) != "two" {
		t.Errorf("Get(second) = %q, %v", got, ok)
	}
	if _, err := os.Stat(filepath.Join(dir, "clip-123.tmp")); !os.IsNotExist(err) {
		t.Error("temp file not cleaned up")
	}
}

func TestRestoreEvictsWhenLimitShrinks(t *testing.T) {
	dir := t.TempDir()
	c, _ := New(dir, 1024, nil)
	c.Put("a", make([]byte, 60))
	older := time.Now().Add(-time.Hour)
	os.Chtimes(filepath.Join(dir, "a"+fileExt), older, older)
	c.Put("b", make([]byte, 60))

	c2, err := New(dir, 100, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, ok := c2.Get("a"); ok {
		t.Error("oldest clip should be evicted under the smaller limit")
	}
	if _, ok := c2.Get("b"); !ok {
		t.Error("newest clip should survive")
	}
}

func TestFileDeletedExternally(t *testing.T) {
	c, dir := newCache(t, 1024)
	c.Put("k", []byte("data"))
	os.Remove(filepath.Join(dir, "k"+fileExt))

	if _, ok := c.Get("k"); ok {
		t.Error("Get should miss after file removal")
	}
	if st := c.Stats(); st.Entries != 0 || st.Bytes != 0 {
		t.Errorf("Stats = %+v, want empty", st)
	}
}

func TestNewRejectsNonPositiveLimit(t *testing.T) {
	if _, err := New(t.TempDir(), 0, nil); err == nil {
		t.Error("New with zero limit should fail")
	}
}

func TestKey(t *testing.T) {
	a := Key("nap", "af_heart", 1.0, "Hello there.")
	if a != Key("nap", "af_heart", 1.0, "Hello there.") {
		t.Error("Key is not deterministic")
	}
	variants := []string{
		Key("stub", "af_heart", 1.0, "Hello there."),
		Key("nap", "am_adam", 1.0, "Hello there."),
		Key("nap", "af_heart", 1.25, "Hello there."),
		Key("nap", "af_heart", 1.0, "Hello there!"),
	}
	for i, v := range variants {
		if v == a {
			t.Errorf("variant %d collides with base key", i)
		}
	}
	if len(a) != 64 {
		t.Errorf("len(Key) = %d, want 64", len(a))
	}
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := newCache(t, 4096)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := Key("nap", "v", 1, string(rune('a'+i%4)))
			c.Put(key, make([]byte, 64))
			c.Get(key)
		}(i)
	}
	wg.Wait()
	if st := c.Stats(); st.Entries > 4 {
		t.Errorf("Entries = %d, want at most 4", st.Entries)
	}
}
