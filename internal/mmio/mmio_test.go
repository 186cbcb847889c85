package mmio

import "testing"

func TestAttachRejectsOverlap(t *testing.T) {
	tab := NewTable()
	if err := tab.Attach(Region{Begin: 0x1000, End: 0x2000, Name: "a"}); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if err := tab.Attach(Region{Begin: 0x1800, End: 0x2800, Name: "b"}); err == nil {
		t.Fatal("expected overlap rejection")
	}
	if err := tab.Attach(Region{Begin: 0x2000, End: 0x3000, Name: "c"}); err != nil {
		t.Fatalf("adjacent, non-overlapping attach should succeed: %v", err)
	}
}

func TestAttachRejectsInvertedRange(t *testing.T) {
	tab := NewTable()
	if err := tab.Attach(Region{Begin: 0x2000, End: 0x1000}); err == nil {
		t.Fatal("expected rejection of Begin >= End")
	}
}

func TestDispatchRoutesToOwningRegion(t *testing.T) {
	tab := NewTable()
	var lastOffset uint64
	tab.Attach(Region{
		Begin: 0x1000, End: 0x1010,
		MinOpSize: 4, MaxOpSize: 4,
		Read: func(offset uint64, size uint, buf []byte) bool {
			lastOffset = offset
			buf[0] = 0x42
			return true
		},
	})
	buf := make([]byte, 4)
	if !tab.Dispatch(0x1008, 4, buf, false) {
		t.Fatal("dispatch should have found the region")
	}
	if lastOffset != 8 {
		t.Fatalf("offset = %d, want 8", lastOffset)
	}
	if buf[0] != 0x42 {
		t.Fatalf("buf[0] = %#x, want 0x42", buf[0])
	}
}

func TestDispatchRejectsBadSize(t *testing.T) {
	tab := NewTable()
	tab.Attach(Region{
		Begin: 0x1000, End: 0x1010, MinOpSize: 4, MaxOpSize: 4,
		Read: func(offset uint64, size uint, buf []byte) bool { return true },
	})
	if tab.Dispatch(0x1000, 1, make([]byte, 1), false) {
		t.Fatal("1-byte access should be rejected by a word-only region")
	}
}

func TestDispatchMissNoRegion(t *testing.T) {
	tab := NewTable()
	if tab.Dispatch(0x9999, 4, make([]byte, 4), false) {
		t.Fatal("dispatch with no attached region should fail")
	}
}

func TestDetachInvokesRemove(t *testing.T) {
	tab := NewTable()
	removed := false
	tab.Attach(Region{Begin: 0x1000, End: 0x2000, Remove: func() { removed = true }})
	if !tab.Detach(0x1000) {
		t.Fatal("detach should report success")
	}
	if !removed {
		t.Fatal("Remove callback should have been invoked")
	}
	if tab.Detach(0x1000) {
		t.Fatal("double detach should report failure")
	}
}

func TestLookupBoundary(t *testing.T) {
	tab := NewTable()
	tab.Attach(Region{Begin: 0x1000, End: 0x1010})
	if _, ok := tab.Lookup(0x1010); ok {
		t.Fatal("End is exclusive; lookup at End should miss")
	}
	if _, ok := tab.Lookup(0x100F); !ok {
		t.Fatal("lookup at End-1 should hit")
	}
}
