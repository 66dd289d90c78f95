package netio

import (
	"bytes"
	"net"
	"testing"
)

func TestWriteQueueDrainsAcrossNodes(t *testing.T) {
	q := NewWriteQueue()
	big := bytes.Repeat([]byte("x"), BufSize*2+7)
	q.QueueSend(big)
	if !q.Pending() {
		t.Fatal("expected pending after QueueSend")
	}

	srv, cli := net.Pipe()
	defer srv.Close()
	defer cli.Close()

	got := make([]byte, 0, len(big))
	done := make(chan struct{})
	go func() {
		buf := make([]byte, 4096)
		for len(got) < len(big) {
			n, err := cli.Read(buf)
			got = append(got, buf[:n]...)
			if err != nil {
				break
			}
		}
		close(done)
	}()

	for q.Pending() {
		if _, err := q.PollSend(srv); err != nil {
			t.Fatalf("PollSend: %v", err)
		}
	}
	srv.Close()
	<-done

	if !bytes.Equal(got, big) {
		t.Fatalf("drained %d bytes, want %d", len(got), len(big))
	}
}

func TestReadBufferShufflesUnconsumed(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()
	defer cli.Close()

	go cli.Write([]byte("AB"))

	var messages []string
	rb := NewReadBuffer(16)
	parse := func(buf []byte) (int, error) {
		if len(buf) < 1 {
			return 0, nil
		}
		messages = append(messages, string(buf[:1]))
		return 1, nil
	}
	if err := rb.PollRecv(srv, parse); err != nil {
		t.Fatalf("PollRecv: %v", err)
	}
	if len(messages) != 2 || messages[0] != "A" || messages[1] != "B" {
		t.Fatalf("unexpected parse sequence: %v", messages)
	}
}
