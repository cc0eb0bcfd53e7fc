package comm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func deliver(t *testing.T, mb *Mailbox, msgs ...Message) {
	t.Helper()
	for _, m := range msgs {
		if err := mb.Deliver(context.Background(), m); err != nil {
			t.Fatal(err)
		}
	}
}

func TestTakeOutOfOrder(t *testing.T) {
	mb := NewMailbox(8)
	deliver(t, mb,
		Message{Src: 1, Tag: 2, Row: []int{12}},
		Message{Src: 2, Tag: 0, Row: []int{20}},
		Message{Src: 1, Tag: 0, Row: []int{10}},
	)
	ctx := context.Background()
	for _, want := range []Message{{Src: 1, Tag: 0}, {Src: 2, Tag: 0}, {Src: 1, Tag: 2}} {
		m, err := mb.Take(ctx, want.Src, want.Tag)
		if err != nil {
			t.Fatal(err)
		}
		if m.Row[0] != 10*want.Src+want.Tag {
			t.Errorf("Take(%d, %d) = %v", want.Src, want.Tag, m.Row)
		}
	}
}

func TestTakeNextKeepsSenderOrder(t *testing.T) {
	mb := NewMailbox(8)
	deliver(t, mb,
		Message{Src: 2, Tag: 0},
		Message{Src: 2, Tag: 1},
		Message{Src: 1, Tag: 0},
	)
	ctx := context.Background()
	if _, err := mb.TakeNext(ctx, 1, 0); err != nil {
		t.Fatal(err)
	}
	for tag := 0; tag < 2; tag++ {
		m, err := mb.TakeNext(ctx, 2, tag)
		if err != nil {
			t.Fatal(err)
		}
		if m.Tag != tag {
			t.Errorf("TakeNext(2, %d) returned tag %d", tag, m.Tag)
		}
	}
}

func TestTakeNextMismatch(t *testing.T) {
	mb := NewMailbox(8)
	deliver(t, mb, Message{Src: 1, Tag: 5})
	if _, err := mb.TakeNext(context.Background(), 1, 4); !errors.Is(err, ErrProtocol) {
		t.Errorf("got %v, want ErrProtocol", err)
	}
}

func TestMailboxClose(t *testing.T) {
	mb := NewMailbox(1)
	errs := make(chan error, 1)
	go func() {
		_, err := mb.Take(context.Background(), 0, 0)
		errs <- err
	}()
	mb.Close()
	select {
	case err := <-errs:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("got %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Take still blocked after Close")
	}
	if err := mb.Deliver(context.Background(), Message{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Deliver after Close: got %v, want ErrClosed", err)
	}
	mb.Close()
}

func TestTakeContext(t *testing.T) {
	mb := NewMailbox(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := mb.Take(ctx, 0, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want DeadlineExceeded", err)
	}
}

func TestClosedMailboxRefusesWithRoom(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 500; i++ {
		mb := NewMailbox(4)
		deliver(t, mb, Message{Src: 1})
		mb.Close()
		if err := mb.Deliver(ctx, Message{Src: 1, Tag: 1}); !errors.Is(err, ErrClosed) {
			t.Fatalf("attempt %d: Deliver after Close: got %v, want ErrClosed", i, err)
		}
		if _, err := mb.Take(ctx, 1, 0); !errors.Is(err, ErrClosed) {
			t.Fatalf("attempt %d: Take after Close: got %v, want ErrClosed", i, err)
		}
	}
}
