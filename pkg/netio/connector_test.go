package netio

import (
	"net"
	"testing"
	"time"
)

func TestConnectorReachesReady(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	c := NewConnector(ln.Addr().String())
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		switch c.Check() {
		case StateReady:
			return
		case StateError:
			t.Fatalf("connector errored: %v", c.Err())
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("connector never reached ready")
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := NewBackoff(8 * time.Second)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Fatalf("step %d: got %v want %v", i, got, w)
		}
	}
}

func TestListenerGenerationGuardsStaleID(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	srv, cli := net.Pipe()
	defer cli.Close()
	id := ln.AddClient(srv)
	if _, _, _, ok := ln.Client(id); !ok {
		t.Fatal("expected freshly added client to be found")
	}

	ln.MarkForClose(id)
	ln.DrainClosed()
	if _, _, _, ok := ln.Client(id); ok {
		t.Fatal("expected stale id to miss after DrainClosed")
	}

	srv2, cli2 := net.Pipe()
	defer cli2.Close()
	id2 := ln.AddClient(srv2)
	if id2.Index != id.Index {
		t.Fatalf("expected slot reuse, got index %d want %d", id2.Index, id.Index)
	}
	if id2.Gen == id.Gen {
		t.Fatal("expected generation to advance on slot reuse")
	}
	if _, _, _, ok := ln.Client(id); ok {
		t.Fatal("old id must not resolve after slot reuse")
	}
}
