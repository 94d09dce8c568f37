package redis

import (
	"context"
	"strconv"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/campus-auth/internal/infra/config"
)

func TestNewClientPingsAndChecks(t *testing.T) {
	server := miniredis.RunT(t)
	port, err := strconv.Atoi(server.Port())
	if err != nil {
		t.Fatalf("parse miniredis port: %v", err)
	}

	client, err := NewClient(context.Background(), config.RedisSettings{Host: server.Host(), Port: port}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	defer client.Close()

	if client.Name() != "redis" {
		t.Fatalf("unexpected name %q", client.Name())
	}
	if err := client.Check(context.Background()); err != nil {
		t.Fatalf("Check returned error: %v", err)
	}

	server.Close()
	if err := client.Check(context.Background()); err == nil {
		t.Fatalf("expected Check to fail once redis is gone")
	}
}

func TestNewClientFailsWhenUnreachable(t *testing.T) {
	server := miniredis.RunT(t)
	port, _ := strconv.Atoi(server.Port())
	host := server.Host()
	server.Close()

	if _, err := NewClient(context.Background(), config.RedisSettings{Host: host, Port: port}, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected NewClient to fail against a closed server")
	}
}
