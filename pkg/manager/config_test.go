package manager

import "testing"

func TestResolveRPCHostDefaults(t *testing.T) {
	c := Config{}
	httpURL, wsURL, err := c.ResolveRPCHost()
	if err != nil {
		t.Fatalf("ResolveRPCHost: %v", err)
	}
	if httpURL != "http://localhost:8899" {
		t.Fatalf("httpURL = %q, want http://localhost:8899", httpURL)
	}
	if wsURL != "ws://localhost:8900" {
		t.Fatalf("wsURL = %q, want ws://localhost:8900", wsURL)
	}
}

func TestResolveRPCHostExplicitPorts(t *testing.T) {
	c := Config{RPCHost: "rpc.example.com:9000:9100"}
	httpURL, wsURL, err := c.ResolveRPCHost()
	if err != nil {
		t.Fatalf("ResolveRPCHost: %v", err)
	}
	if httpURL != "http://rpc.example.com:9000" {
		t.Fatalf("httpURL = %q", httpURL)
	}
	if wsURL != "ws://rpc.example.com:9100" {
		t.Fatalf("wsURL = %q", wsURL)
	}
}

func TestResolveRPCHostRPCPortOnlyDerivesWSPort(t *testing.T) {
	c := Config{RPCHost: "rpc.example.com:9000"}
	_, wsURL, err := c.ResolveRPCHost()
	if err != nil {
		t.Fatalf("ResolveRPCHost: %v", err)
	}
	if wsURL != "ws://rpc.example.com:9001" {
		t.Fatalf("wsURL = %q, want ws://rpc.example.com:9001", wsURL)
	}
}

func TestResolveRPCHostRejectsBadPort(t *testing.T) {
	c := Config{RPCHost: "host:notaport"}
	if _, _, err := c.ResolveRPCHost(); err == nil {
		t.Fatal("expected error for non-numeric rpc_port")
	}
}
