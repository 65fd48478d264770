package events

// NOTE: These tests require Redis running locally and skip otherwise.

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nimbusgrid/nimbus-scheduler/pkg/deployment"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/lifecycle"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/resource"
	redisstore "github.com/nimbusgrid/nimbus-scheduler/pkg/storage/redis"
)

func TestNotifyPublishes(t *testing.T) {
	client, err := redisstore.NewClient("localhost:6379", "", 0)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.Close()

	p := NewPublisher(client)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d := deployment.New("event-job", "img", "u", "c1", 5, resource.Resources{RAM: 1})
	d.Status = deployment.StatusRunning
	d.StartedAt = time.Now().UTC()

	// Best-effort contract: Notify never panics and never propagates errors,
	// with or without subscribers listening.
	assert.NotPanics(t, func() {
		p.Notify(ctx, lifecycle.Event{Type: lifecycle.EventStarted, Deployment: d})
	})
}

func TestNotifySwallowsPublishFailure(t *testing.T) {
	client, err := redisstore.NewClient("localhost:6379", "", 0)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.Close()

	p := NewPublisher(client)

	// A cancelled context makes the publish fail; the notifier must not panic.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := deployment.New("event-job", "img", "u", "c1", 5, resource.Resources{RAM: 1})
	assert.NotPanics(t, func() {
		p.Notify(ctx, lifecycle.Event{Type: lifecycle.EventCreated, Deployment: d})
	})
}
