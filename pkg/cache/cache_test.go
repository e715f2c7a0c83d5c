package cache

import (
	"testing"
	"time"
)

func TestFIFOCacheEvictsInInsertionOrder(t *testing.T) {
	c := newFIFOCache(time.Hour, 0, 2)
	c.Put("a", []byte("1"), nil, 1)
	c.Put("b", []byte("2"), nil, 1)
	c.Put("c", []byte("3"), nil, 1) // evicts "a"

	if _, _, ok := c.Get("a"); ok {
		t.Fatal("expected oldest entry 'a' to be evicted")
	}
	if _, _, ok := c.Get("b"); !ok {
		t.Fatal("expected 'b' to survive")
	}
	if _, _, ok := c.Get("c"); !ok {
		t.Fatal("expected 'c' to survive")
	}
}

func TestFIFOCacheByteBudgetEviction(t *testing.T) {
	c := newFIFOCache(time.Hour, 10, 0)
	c.Put("a", []byte("12345"), nil, 5)
	c.Put("b", []byte("12345"), nil, 5)
	c.Put("c", []byte("12345"), nil, 5) // total would be 15 > 10, evicts "a"

	if _, _, ok := c.Get("a"); ok {
		t.Fatal("expected 'a' evicted to stay within the byte budget")
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 surviving entries, got %d", c.Len())
	}
}

func TestFIFOCacheRejectsOversizedEntry(t *testing.T) {
	c := newFIFOCache(time.Hour, 10, 0)
	if c.Put("huge", make([]byte, 20), nil, 20) {
		t.Fatal("expected an entry larger than the cap to be rejected")
	}
	if c.Len() != 0 {
		t.Fatal("rejected entry must not be stored")
	}
}

func TestFIFOCacheExpiresByTTL(t *testing.T) {
	c := newFIFOCache(-time.Second, 0, 0) // already-expired TTL
	c.Put("a", []byte("1"), nil, 1)
	if _, _, ok := c.Get("a"); ok {
		t.Fatal("expected expired entry to be absent")
	}
}

func TestResponseCacheRoundTrip(t *testing.T) {
	rc := NewResponseCache(time.Hour, 1, 10)
	meta := ResponseMeta{TriageComplete: true}
	if !rc.Put("key", []byte(`{"streams":[]}`), meta) {
		t.Fatal("expected Put to succeed")
	}
	payload, gotMeta, ok := rc.Get("key")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(payload) != `{"streams":[]}` {
		t.Fatalf("unexpected payload: %s", payload)
	}
	if !gotMeta.TriageComplete {
		t.Fatal("expected triageComplete true to round-trip")
	}
}

func TestVerifiedNZBCacheRoundTrip(t *testing.T) {
	vc := NewVerifiedNZBCache(time.Hour, 1)
	if !vc.Put("https://example/nzb", []byte("xml"), VerifiedNZBMeta{Indexer: "paid-site"}) {
		t.Fatal("expected Put to succeed")
	}
	body, meta, ok := vc.Get("https://example/nzb")
	if !ok || string(body) != "xml" || meta.Indexer != "paid-site" {
		t.Fatalf("unexpected round-trip result: body=%s meta=%+v ok=%v", body, meta, ok)
	}
}

func TestMountHandleCacheSingleFlight(t *testing.T) {
	mc := NewMountHandleCache(time.Hour)
	var calls int
	build := func() BuildResult {
		calls++
		return BuildResult{Handle: "handle-1"}
	}

	done := make(chan struct{}, 8)
	for i := 0; i < 8; i++ {
		go func() {
			h, err := mc.GetOrBuild("key", build)
			if err != nil || h != "handle-1" {
				t.Errorf("unexpected result: %v %v", h, err)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	h, err := mc.GetOrBuild("key", build)
	if err != nil || h != "handle-1" {
		t.Fatalf("unexpected cached result: %v %v", h, err)
	}
	if calls != 1 {
		t.Fatalf("expected the builder to run exactly once, got %d", calls)
	}
}

func TestMountHandleCacheDeterministicFailurePinned(t *testing.T) {
	mc := NewMountHandleCache(time.Hour)
	wantErr := errDeterministic{}
	_, err := mc.GetOrBuild("key", func() BuildResult {
		return BuildResult{Err: wantErr, Deterministic: true}
	})
	if err != wantErr {
		t.Fatalf("expected deterministic error, got %v", err)
	}

	// Second call must not re-invoke build; it should return the pinned failure.
	called := false
	_, err = mc.GetOrBuild("key", func() BuildResult {
		called = true
		return BuildResult{Handle: "should-not-happen"}
	})
	if called {
		t.Fatal("expected the pinned failed entry to short-circuit the builder")
	}
	if err != wantErr {
		t.Fatalf("expected pinned deterministic error, got %v", err)
	}
}

func TestMountHandleCacheNonDeterministicFailureRetries(t *testing.T) {
	mc := NewMountHandleCache(time.Hour)
	attempt := 0
	build := func() BuildResult {
		attempt++
		if attempt == 1 {
			return BuildResult{Err: errTransient{}, Deterministic: false}
		}
		return BuildResult{Handle: "handle-2"}
	}

	_, err := mc.GetOrBuild("key", build)
	if err == nil {
		t.Fatal("expected the first attempt to fail")
	}

	h, err := mc.GetOrBuild("key", build)
	if err != nil || h != "handle-2" {
		t.Fatalf("expected the second attempt to retry and succeed, got %v %v", h, err)
	}
	if attempt != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempt)
	}
}

type errDeterministic struct{}

func (errDeterministic) Error() string { return "deterministic failure" }

type errTransient struct{}

func (errTransient) Error() string { return "transient failure" }
