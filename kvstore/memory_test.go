package kvstore

import "testing"

func TestMemoryStoreGetPutDelete(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, ok, _ := s.Get("missing"); ok {
		t.Fatalf("expected miss for absent key")
	}
	if err := s.Put("a", []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := s.Get("a")
	if err != nil || !ok || string(v) != "1" {
		t.Fatalf("Get(a) = %q, %v, %v", v, ok, err)
	}
	if err := s.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get("a"); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Init()
	_ = s.Put("k", []byte("orig"))
	v, _, _ := s.Get("k")
	v[0] = 'X'
	v2, _, _ := s.Get("k")
	if string(v2) != "orig" {
		t.Fatalf("mutation of returned slice leaked into store: %q", v2)
	}
}

func TestMemoryStoreEntriesRange(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Init()
	for _, k := range []string{"i:1:a", "i:2:b", "i:3:c", "tx:a"} {
		_ = s.Put(k, []byte(k))
	}

	var got []string
	err := s.Entries(func(k string, v []byte) error {
		got = append(got, k)
		return nil
	}, Range{Gt: "i:1", Lt: "i:9"})
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	want := []string{"i:1:a", "i:2:b", "i:3:c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMemoryStoreEntriesReverseAndLimit(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Init()
	for _, k := range []string{"i:1", "i:2", "i:3"} {
		_ = s.Put(k, []byte(k))
	}
	var got []string
	err := s.Entries(func(k string, v []byte) error {
		got = append(got, k)
		return nil
	}, Range{Reverse: true, Limit: 2})
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	want := []string{"i:3", "i:2"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestMemoryOpenerReturnsSameInstancePerName(t *testing.T) {
	o := NewMemoryOpener()
	a, err := o.Open("addr")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = a.Put("k", []byte("v"))

	again, err := o.Open("addr")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	v, ok, _ := again.Get("k")
	if !ok || string(v) != "v" {
		t.Fatalf("expected same backing store across Open calls, got %q, %v", v, ok)
	}

	other, _ := o.Open("tx-history")
	if _, ok, _ := other.Get("k"); ok {
		t.Fatalf("expected distinct namespace to be empty")
	}
}
