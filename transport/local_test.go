package transport

import (
	"context"
	"testing"
	"time"

	"github.com/hashledger/hashledger/chain"
)

func TestLocalServerAppendAndHead(t *testing.T) {
	ctx := context.Background()
	s := NewLocalServer()

	head, err := s.PersonalHead(ctx, "db")
	if err != nil {
		t.Fatal(err)
	}
	if head != nil {
		t.Fatal("expected nil head on empty log")
	}

	e0 := chain.PersonalEntry{Index: 0, PrevHash: chain.GenesisHash, Hash: "h0"}
	if _, err := s.AppendPersonal(ctx, "db", e0); err != nil {
		t.Fatal(err)
	}
	head, err = s.PersonalHead(ctx, "db")
	if err != nil {
		t.Fatal(err)
	}
	if head == nil || head.Hash != "h0" {
		t.Fatalf("expected head h0, got %+v", head)
	}

	// Non-contiguous append must be rejected.
	e2 := chain.PersonalEntry{Index: 2, PrevHash: "h0", Hash: "h2"}
	if _, err := s.AppendPersonal(ctx, "db", e2); err == nil {
		t.Fatal("expected non-contiguous append to be rejected")
	}
}

func TestLocalServerPushBroadcast(t *testing.T) {
	ctx := context.Background()
	s := NewLocalServer()
	stream := s.Subscribe()
	defer stream.Close()

	e0 := chain.PersonalEntry{Index: 0, PrevHash: chain.GenesisHash, Hash: "h0"}
	if _, err := s.AppendPersonal(ctx, "db", e0); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-stream.Events():
		if ev.Type != EventNewLog || ev.Entry == nil || ev.Entry.Hash != "h0" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for push event")
	}
}

func TestBackoffSchedule(t *testing.T) {
	b := DefaultBackoff()
	if b.Delay(0) != time.Second {
		t.Fatalf("expected first delay 1s, got %v", b.Delay(0))
	}
	if b.Delay(5) != 32*time.Second {
		t.Fatalf("expected 5th delay capped at 32s, got %v", b.Delay(5))
	}
	if b.Delay(20) != 32*time.Second {
		t.Fatalf("expected far-out delay capped at 32s, got %v", b.Delay(20))
	}
	if !b.Exhausted(10) || b.Exhausted(9) {
		t.Fatal("exhausted boundary incorrect")
	}
}
