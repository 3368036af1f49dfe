package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/studysync/studysync/internal/apiclient"
	"github.com/studysync/studysync/internal/cloud"
	"github.com/studysync/studysync/internal/config"
	"github.com/studysync/studysync/internal/connectivity"
	"github.com/studysync/studysync/internal/logging"
	"github.com/studysync/studysync/internal/reconcile"
	"github.com/studysync/studysync/internal/schema"
	"github.com/studysync/studysync/internal/store"
	"github.com/studysync/studysync/internal/ui"
)

// app bundles the replicas and the engine for one command invocation.
type app struct {
	cfg *config.Config
	log *logging.Logger

	db        *store.DB
	docs      cloud.DocumentStore
	cloud     *cloud.Replica
	secondary *apiclient.Client
	monitor   *connectivity.Monitor
	gate      connectivity.Gate
	engine    *reconcile.Engine
}

// openApp opens the local database, connects the remote replicas and builds
// the engine. observer may be nil.
func openApp(ctx context.Context, observer reconcile.Observer) (*app, error) {
	a := &app{cfg: cfg, log: logger}

	db, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchemaContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	a.db = db

	if cfg.Cloud.Backend == config.BackendRedis {
		docs, err := cloud.NewRedis(ctx, cfg.RedisOptions(), logger)
		switch {
		case err == nil:
			a.docs = docs
		case cfg.Sync.Offline:
			// Offline mode never talks to the cloud.
			logger.Warn("cloud unreachable, continuing offline", "error", err)
		default:
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to cloud: %w", err)
		}
	}
	if a.docs == nil {
		a.docs = cloud.Unconfigured{}
	}
	a.cloud = cloud.NewReplica(a.docs, logger)

	if cfg.Secondary.URL != "" {
		a.secondary = apiclient.NewClient(&http.Client{Timeout: cfg.Secondary.Timeout}, cfg.Secondary.URL)
	}

	if cfg.Sync.Offline || !a.cloudConfigured() {
		// Nothing durable to push to: keep writes unsynced and queued.
		a.gate = connectivity.Static(false)
	} else {
		hosts := probeHosts(cfg)
		a.monitor = connectivity.NewMonitor(hosts, true, logger)
		if len(hosts) > 0 {
			a.monitor.Set(a.monitor.Probe(ctx))
		}
		a.gate = a.monitor
	}

	opts := reconcile.Options{
		Store:            db,
		Cloud:            a.cloud,
		SecondaryKinds:   cfg.SecondaryKinds(),
		Gate:             a.gate,
		Log:              logger,
		Observer:         observer,
		Retry:            cfg.RetryPolicy(),
		PushTimeout:      cfg.Sync.PushTimeout,
		PullTimeout:      cfg.Sync.PullTimeout,
		BatchConcurrency: cfg.Sync.Concurrency,
	}
	// A nil *Client inside the interface would look configured.
	if a.secondary != nil {
		opts.Secondary = a.secondary
	}
	engine, err := reconcile.New(opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = engine
	return a, nil
}

func (a *app) cloudConfigured() bool {
	_, none := a.docs.(cloud.Unconfigured)
	return !none
}

func (a *app) unreachableReason() string {
	if !a.cfg.Sync.Offline && !a.cloudConfigured() {
		return "No cloud configured"
	}
	return "Offline"
}

// probeHosts returns the configured probe targets. Without any, the Redis
// address doubles as one when the cloud is remote.
func probeHosts(c *config.Config) []string {
	if len(c.Sync.ProbeHosts) > 0 {
		return c.Sync.ProbeHosts
	}
	var hosts []string
	if c.Cloud.Backend == config.BackendRedis && c.Cloud.Addr != "" {
		hosts = append(hosts, c.Cloud.Addr)
	}
	if u, err := url.Parse(c.Secondary.URL); err == nil && u.Host != "" {
		host := u.Host
		if u.Port() == "" {
			port := "80"
			if u.Scheme == "https" {
				port = "443"
			}
			host = net.JoinHostPort(u.Hostname(), port)
		}
		hosts = append(hosts, host)
	}
	return hosts
}

// Close waits for background pushes, then releases the replicas.
func (a *app) Close() error {
	var errs []error
	if a.engine != nil {
		errs = append(errs, a.engine.Close())
	}
	if a.docs != nil {
		errs = append(errs, a.docs.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

// userID returns the configured account or an error telling the user how to
// set one.
func (a *app) userID() (string, error) {
	if a.cfg.User.ID == "" {
		return "", fmt.Errorf("no user configured: pass --user or set user.id (studysync user register)")
	}
	return a.cfg.User.ID, nil
}

// waitPush blocks for the background push of a mutation and prints both
// replica outcomes. Remote failures are reported, not returned: the local
// write already succeeded.
func (a *app) waitPush(ctx context.Context, w io.Writer, receipt *reconcile.Receipt) {
	wctx, cancel := context.WithTimeout(ctx, a.cfg.Sync.PushTimeout+a.cfg.Secondary.Timeout)
	defer cancel()

	report, err := receipt.Wait(wctx)
	if err != nil {
		fmt.Fprintf(w, "   %s still pushing in the background\n", ui.RenderWarn("…"))
		return
	}
	printOutcome(w, "cloud", report.Cloud)
	printOutcome(w, "secondary", report.Secondary)
}

func printOutcome(w io.Writer, replica string, o reconcile.Outcome) {
	switch o.Status {
	case reconcile.StatusAcked:
		fmt.Fprintf(w, "   %s %s\n", ui.RenderPass("✓"), replica)
	case reconcile.StatusFailed:
		fmt.Fprintf(w, "   %s %s: %v\n", ui.RenderFail("✗"), replica, o.Err)
	case reconcile.StatusSkipped:
		reason := "skipped"
		if errors.Is(o.Err, reconcile.ErrOffline) {
			reason = "offline, queued"
		}
		fmt.Fprintf(w, "   %s %s %s\n", ui.RenderMuted("-"), replica, ui.RenderMuted(reason))
	}
}

// lookupCourse returns the course name for id, or an error when it does not
// exist locally.
func (a *app) lookupCourse(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", nil
	}
	c, err := a.db.GetCourse(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("course %s not found", id)
	}
	if err != nil {
		return "", err
	}
	return c.Name, nil
}

func kindLabel(k schema.Kind) string {
	return string(k) + "s"
}
