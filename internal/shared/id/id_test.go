package id

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestPrefixedIDs(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() string
		prefix string
	}{
		{"app", func() string { return NewAppID().String() }, AppPrefix},
		{"trace", func() string { return NewTraceID().String() }, TracePrefix},
		{"span", func() string { return NewSpanID().String() }, SpanPrefix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.gen()
			if !strings.HasPrefix(got, tt.prefix+"_") {
				t.Errorf("%q missing prefix %q", got, tt.prefix)
			}
			if !Valid(got, tt.prefix) {
				t.Errorf("%q should be valid", got)
			}
			if Valid(got, "other") {
				t.Errorf("%q should not match another prefix", got)
			}
		})
	}
}

func TestValidRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "app_", "app_not-a-ulid", "0123"} {
		if Valid(s, AppPrefix) {
			t.Errorf("%q should be invalid", s)
		}
	}
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Truncate(time.Millisecond)
	appID := NewAppID()

	ts, err := Timestamp(appID.String())
	if err != nil {
		t.Fatalf("Timestamp: %v", err)
	}
	if ts.Before(before) || ts.After(time.Now()) {
		t.Errorf("timestamp %v outside generation window", ts)
	}

	if _, err := Timestamp("app_bogus"); err == nil {
		t.Error("expected error for malformed id")
	}
}

func TestConcurrentGenerationIsUniqueAndSorted(t *testing.T) {
	gen := NewGenerator()
	const n = 200

	var (
		mu  sync.Mutex
		ids = make(map[string]struct{}, n)
		wg  sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := gen.Generate().String()
			mu.Lock()
			ids[s] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ids) != n {
		t.Fatalf("expected %d unique ids, got %d", n, len(ids))
	}

	seq := make([]string, 5)
	for i := range seq {
		seq[i] = gen.Generate().String()
	}
	if !sort.StringsAreSorted(seq) {
		t.Errorf("sequential ids should sort lexicographically: %v", seq)
	}
}
