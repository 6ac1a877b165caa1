package resource

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeConn struct {
	id     int
	closed atomic.Bool
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func fakeFactory() (ConnFactory, *atomic.Int32) {
	var n atomic.Int32
	return func(ctx context.Context) (Conn, error) {
		id := int(n.Add(1))
		return &fakeConn{id: id}, nil
	}, &n
}

func TestDBPool_Checkout(t *testing.T) {
	t.Run("reuses released connections LIFO", func(t *testing.T) {
		factory, opened := fakeFactory()
		p := NewDBPool(DBPoolConfig{MaxOpen: 3, IdleTimeout: time.Minute}, factory, nil)
		defer p.Close()

		c1, _ := p.Get(context.Background(), 50)
		c2, _ := p.Get(context.Background(), 50)
		p.Put(c1)
		p.Put(c2)

		// c2 was released last, so it comes back first
		got, err := p.Get(context.Background(), 50)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.(*fakeConn).id != c2.(*fakeConn).id {
			t.Errorf("got conn %d, want most recently released %d", got.(*fakeConn).id, c2.(*fakeConn).id)
		}
		if opened.Load() != 2 {
			t.Errorf("opened = %d, want 2", opened.Load())
		}
	})

	t.Run("waits for a release when saturated", func(t *testing.T) {
		factory, _ := fakeFactory()
		p := NewDBPool(DBPoolConfig{MaxOpen: 1, IdleTimeout: time.Minute}, factory, nil)
		defer p.Close()

		c1, _ := p.Get(context.Background(), 50)
		got := make(chan Conn, 1)
		go func() {
			c, err := p.Get(context.Background(), 50)
			if err != nil {
				t.Errorf("waiter Get failed: %v", err)
			}
			got <- c
		}()

		select {
		case <-got:
			t.Fatal("Get should block while the pool is saturated")
		case <-time.After(50 * time.Millisecond):
		}

		p.Put(c1)
		select {
		case c := <-got:
			p.Put(c)
		case <-time.After(time.Second):
			t.Fatal("waiter never got the released connection")
		}
	})

	t.Run("saturated wait times out with ctx", func(t *testing.T) {
		factory, _ := fakeFactory()
		p := NewDBPool(DBPoolConfig{MaxOpen: 1, IdleTimeout: time.Minute}, factory, nil)
		defer p.Close()

		c1, _ := p.Get(context.Background(), 50)
		defer p.Put(c1)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		if _, err := p.Get(ctx, 50); !errors.Is(err, ErrTimeout) {
			t.Fatalf("err = %v, want ErrTimeout", err)
		}
	})

	t.Run("max age replaces old connections on checkout", func(t *testing.T) {
		factory, opened := fakeFactory()
		p := NewDBPool(DBPoolConfig{MaxOpen: 2, IdleTimeout: time.Minute, MaxAge: 20 * time.Millisecond}, factory, nil)
		defer p.Close()

		c1, _ := p.Get(context.Background(), 50)
		p.Put(c1)
		time.Sleep(40 * time.Millisecond)

		c2, err := p.Get(context.Background(), 50)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		defer p.Put(c2)
		if !c1.(*fakeConn).closed.Load() {
			t.Error("aged-out connection was not closed")
		}
		if opened.Load() != 2 {
			t.Errorf("opened = %d, want a fresh connection", opened.Load())
		}
	})
}

func TestDBPool_HighPriorityOvercommit(t *testing.T) {
	// pool of 1, slot taken: a priority-90 checkout opens past MaxOpen
	// immediately, and the surplus connection is closed on return
	factory, opened := fakeFactory()
	p := NewDBPool(DBPoolConfig{MaxOpen: 1, IdleTimeout: time.Minute}, factory, nil)
	defer p.Close()

	c1, _ := p.Get(context.Background(), 50)

	c2, err := p.Get(context.Background(), 90)
	if err != nil {
		t.Fatalf("priority-90 Get failed: %v", err)
	}
	if opened.Load() != 2 {
		t.Fatalf("opened = %d, want a fresh overcommit connection", opened.Load())
	}
	if p.Open() != 2 {
		t.Errorf("open = %d, want 2 while overcommitted", p.Open())
	}

	p.Put(c2)
	if p.Open() != 1 {
		t.Errorf("open = %d, want surplus trimmed back to MaxOpen", p.Open())
	}
	if !c2.(*fakeConn).closed.Load() {
		t.Error("surplus connection was not closed on return")
	}
	p.Put(c1)
}

func TestDBPool_Reaper(t *testing.T) {
	factory, _ := fakeFactory()
	p := NewDBPool(DBPoolConfig{MaxOpen: 2, IdleTimeout: 20 * time.Millisecond, ReapEvery: 10 * time.Millisecond}, factory, nil)
	defer p.Close()

	c1, _ := p.Get(context.Background(), 50)
	p.Put(c1)

	deadline := time.Now().Add(time.Second)
	for p.Idle() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if p.Idle() != 0 || p.Open() != 0 {
		t.Fatalf("idle = %d open = %d, want reaped to zero", p.Idle(), p.Open())
	}
	if !c1.(*fakeConn).closed.Load() {
		t.Error("reaped connection was not closed")
	}
}

func TestDBPool_Close(t *testing.T) {
	factory, _ := fakeFactory()
	p := NewDBPool(DBPoolConfig{MaxOpen: 2, IdleTimeout: time.Minute}, factory, nil)

	c1, _ := p.Get(context.Background(), 50)
	p.Put(c1)
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !c1.(*fakeConn).closed.Load() {
		t.Error("idle connection not closed on pool close")
	}
	if _, err := p.Get(context.Background(), 50); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("err = %v, want ErrPoolClosed", err)
	}
}
