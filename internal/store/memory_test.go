package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryGetSetRemove(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, ok, err := m.Get(ctx, KeyUsers); err != nil || ok {
		t.Fatalf("expected missing key, ok=%v err=%v", ok, err)
	}
	value := []byte(`[1,2,3]`)
	if err := m.Set(ctx, KeyUsers, value); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value[0] = 'x'

	got, ok, err := m.Get(ctx, KeyUsers)
	if err != nil || !ok {
		t.Fatalf("expected key, ok=%v err=%v", ok, err)
	}
	if string(got) != `[1,2,3]` {
		t.Fatalf("stored value was aliased: %s", got)
	}
	if err := m.Remove(ctx, KeyUsers); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(m.Keys()) != 0 {
		t.Fatalf("expected no keys, got %v", m.Keys())
	}
	if err := m.Remove(ctx, KeyUsers); err != nil {
		t.Fatalf("Remove of missing key should be a no-op: %v", err)
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	type item struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	in := []item{{ID: 1, Name: "bridge"}, {ID: 2, Name: "road"}}
	if err := SetJSON(ctx, m, KeyProjects, in); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	var out []item
	ok, err := GetJSON(ctx, m, KeyProjects, &out)
	if err != nil || !ok {
		t.Fatalf("GetJSON ok=%v err=%v", ok, err)
	}
	if len(out) != 2 || out[1].Name != "road" {
		t.Fatalf("unexpected decode: %#v", out)
	}

	var missing []item
	ok, err = GetJSON(ctx, m, KeyDefects, &missing)
	if err != nil || ok || missing != nil {
		t.Fatalf("expected absent key to leave dst untouched, ok=%v err=%v", ok, err)
	}
}

type failingKV struct{ err error }

func (f failingKV) Get(context.Context, string) ([]byte, bool, error) { return nil, false, f.err }
func (f failingKV) Set(context.Context, string, []byte) error         { return f.err }
func (f failingKV) Remove(context.Context, string) error              { return f.err }

func TestJSONHelpersWrapErrors(t *testing.T) {
	boom := errors.New("disk full")
	kv := failingKV{err: boom}
	if err := SetJSON(context.Background(), kv, KeyHistory, []int{1}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	var dst []int
	if _, err := GetJSON(context.Background(), kv, KeyHistory, &dst); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	m := NewMemory()
	_ = m.Set(context.Background(), KeyHistory, []byte("{not json"))
	if _, err := GetJSON(context.Background(), m, KeyHistory, &dst); err == nil {
		t.Fatal("expected decode error")
	}
}
