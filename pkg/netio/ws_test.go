package netio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func TestWSConnSendRecvRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade: %v", err)
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, append([]byte("echo:"), msg...))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	ws, err := DialWS(context.Background(), url)
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	defer ws.Close()

	if err := ws.Send([]byte(`{"jsonrpc":"2.0"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := ws.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(got) != `echo:{"jsonrpc":"2.0"}` {
		t.Fatalf("unexpected echo: %s", got)
	}
}
