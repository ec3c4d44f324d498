//go:build integration

package agent

import (
	"context"
	"os"
	"testing"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/guest-agent/pkg/db"
	"github.com/morezero/guest-agent/pkg/status"
)

const integrationPrefix = "agent:integration_test"

// TestServe_WritesStatusRow runs the whole agent against DATABASE_URL with a one second
// interval and waits for this host's row to appear.
func TestServe_WritesStatusRow(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("agent:integration_test - DATABASE_URL not set, skipping")
	}
	ctx := context.Background()
	if err := db.EnsureDatabase(ctx, url); err != nil {
		t.Fatalf("%s - EnsureDatabase failed: %v", integrationPrefix, err)
	}

	ns := startTestServer(t, 14275)
	cfg := testConfig(ns.ClientURL())
	cfg.StatusDatabaseURL = url
	cfg.StatusSchema = "guest_agent_it"
	cfg.RunMigrations = true
	cfg.PeriodicInterval = 1

	a, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("%s - New failed: %v", integrationPrefix, err)
	}
	defer a.Close()

	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	conn := db.NewStatusConn(url)
	if err := conn.Open(ctx); err != nil {
		t.Fatalf("%s - open: %v", integrationPrefix, err)
	}
	defer conn.Close(ctx)
	if err := conn.Exec(ctx, "SET search_path TO "+conn.EscapeIdentifier(cfg.StatusSchema)); err != nil {
		t.Fatalf("%s - set search_path: %v", integrationPrefix, err)
	}
	if err := conn.Exec(ctx, "DELETE FROM guest_status WHERE host_id = $1", a.host); err != nil {
		t.Fatalf("%s - delete: %v", integrationPrefix, err)
	}

	var row *db.GuestStatus
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		row, err = conn.GetStatus(ctx, a.host)
		if err != nil {
			t.Fatalf("%s - GetStatus: %v", integrationPrefix, err)
		}
		if row != nil {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	if row == nil {
		t.Fatalf("%s - no status row for %s", integrationPrefix, a.host)
	}
	if row.StateDescription != status.State(row.State).String() || row.AgentVersion != Version {
		t.Errorf("%s - unexpected row %+v", integrationPrefix, row)
	}

	client, err := comms.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("%s - client connect failed: %v", integrationPrefix, err)
	}
	defer client.Close()
	if resp := request(t, client, a.Subject(), `{"method":"exit"}`); resp.Failure != nil {
		t.Fatalf("%s - exit failed: %s", integrationPrefix, *resp.Failure)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("%s - Serve returned %v", integrationPrefix, err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("%s - Serve did not return after exit", integrationPrefix)
	}
}
