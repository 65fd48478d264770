// File: cmd/scheduler/main.go
// Entry point for the Nimbus deployment scheduler
// Initializes storage, the scheduling core and the HTTP gateway
//
// Startup flow:
//   main.go
//      ↓
//   (Load config, set log level)
//      ↓
//   (Connect storage: etcd + Redis)
//      ↓
//   (Build core: registry, ledger, queue, lifecycle manager)
//      ↓
//   (Acquire scheduler leader lease)
//      ↓
//   (Restore persisted state, start admission workers)
//      ↓
//   (Start HTTP gateway, wait for shutdown signal)

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusgrid/nimbus-scheduler/pkg/api/gateway"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/cluster"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/config"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/events"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/idempotency"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/lease"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/ledger"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/lifecycle"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/logger"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/queue"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/scheduler"
	etcdstore "github.com/nimbusgrid/nimbus-scheduler/pkg/storage/etcd"
	redisstore "github.com/nimbusgrid/nimbus-scheduler/pkg/storage/redis"
	"github.com/nimbusgrid/nimbus-scheduler/pkg/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.LoadConfig()
	if err := config.ValidateConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.Get()
	log.SetLevelStr(cfg.LogLevel)
	defer log.Sync()

	log.Info("Starting Nimbus scheduler...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ------------------------------------------------------------------
	// Storage
	// ------------------------------------------------------------------

	etcdClient, err := etcdstore.NewClient(cfg.EtcdEndpoints, cfg.EtcdDialTimeout)
	if err != nil {
		log.Error("Cannot start without etcd: %v", err)
		os.Exit(1)
	}
	defer etcdClient.Close()

	// Redis is degradable: without it we lose dedup, events and the
	// resource mirror but scheduling still works.
	redisClient, err := redisstore.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Warn("Redis unavailable, running without dedup/events/mirror: %v", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	// ------------------------------------------------------------------
	// Scheduling core
	// ------------------------------------------------------------------

	registry := cluster.NewRegistry()
	led := ledger.New()
	q := queue.New()
	manager := lifecycle.NewManager(registry, led, q)

	st := store.New(etcdClient, redisClient, led)

	notifiers := []lifecycle.Notifier{st}
	if redisClient != nil {
		notifiers = append(notifiers, events.NewPublisher(redisClient))
	}
	manager.SetNotifier(lifecycle.Multi(notifiers...))

	// ------------------------------------------------------------------
	// Leadership
	// ------------------------------------------------------------------

	hostname, _ := os.Hostname()
	instanceID := fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])

	leaseMgr := lease.NewManager(etcdClient, instanceID, cfg.LeaseTTL)
	if err := leaseMgr.Acquire(ctx); err != nil {
		log.Error("Leader lease acquisition aborted: %v", err)
		os.Exit(1)
	}
	go func() {
		if err := leaseMgr.KeepAlive(ctx); err != nil && ctx.Err() == nil {
			log.Error("Leadership lost, shutting down: %v", err)
			cancel()
		}
	}()

	// ------------------------------------------------------------------
	// Restore + scheduler
	// ------------------------------------------------------------------

	if err := st.Restore(ctx, manager); err != nil {
		log.Error("State reconstruction failed: %v", err)
		os.Exit(1)
	}

	sched := scheduler.New(manager, led, q, cfg.SweepInterval)
	manager.SetTrigger(sched.Kick)
	sched.Start(ctx)

	// Freed capacity may have accumulated while we were down; refill each
	// cluster before accepting traffic.
	for _, clusterID := range led.Clusters() {
		if n := sched.Drain(ctx, clusterID); n > 0 {
			log.Info("Startup drain admitted %d deployments on cluster %s", n, clusterID)
		}
	}

	// ------------------------------------------------------------------
	// HTTP gateway
	// ------------------------------------------------------------------

	var dedup *idempotency.Manager
	if redisClient != nil {
		dedup = idempotency.NewManager(redisClient)
	}

	gwConfig := &gateway.Config{
		Port:           cfg.GatewayPort,
		RequestTimeout: 30 * time.Second,
		MaxRequestSize: 1 << 20,
	}
	gw, err := gateway.New(gwConfig, manager, sched, st, dedup)
	if err != nil {
		log.Error("Failed to create gateway: %v", err)
		os.Exit(1)
	}
	if err := gw.Start(); err != nil {
		log.Error("Failed to start gateway: %v", err)
		os.Exit(1)
	}

	log.Info("Nimbus scheduler ready (instance=%s, port=%d)", instanceID, cfg.GatewayPort)

	// ------------------------------------------------------------------
	// Shutdown
	// ------------------------------------------------------------------

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received %v, shutting down...", sig)
	case <-ctx.Done():
	}

	if err := gw.Stop(shutdownTimeout); err != nil {
		log.Warn("Gateway shutdown: %v", err)
	}
	sched.Stop()

	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer releaseCancel()
	if err := leaseMgr.Release(releaseCtx); err != nil {
		log.Warn("Lease release: %v", err)
	}

	log.Info("Nimbus scheduler stopped")
}
