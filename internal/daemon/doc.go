// Package daemon keeps the local store reconciled while studysync runs in the
// background.
//
// # Architecture
//
// The daemon drives a reconcile.Engine from four sources:
//
//   - Sync ticker: a full push and pull every SyncInterval
//   - Retry ticker: drains the engine's retry queue every RetryInterval
//   - Connectivity: when the monitor reports the network is back, drains
//     retries and pushes every unsynced record
//   - Database watch: writes to the database file by another process (the
//     CLI, for instance) are debounced and followed by a push of unsynced
//     records
//
// # File Watching
//
// DBWatcher watches the directory that holds the database and reports
// Create, Write, Remove and Rename events for the database file and its
// -wal, -shm and -journal sidecars:
//
//	w, err := daemon.WatchDatabase("/home/me/.studysync/studysync.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Close()
//
//	for event := range w.Events() {
//	    fmt.Println(event)
//	}
//
// # Usage
//
//	monitor := connectivity.NewMonitor(hosts, true, log)
//	go monitor.Run(ctx, 30*time.Second)
//
//	d, err := daemon.New(engine, &daemon.Config{
//	    UserID:    cfg.User.ID,
//	    WatchPath: cfg.Database.Path,
//	    Regained:  monitor.Regained(),
//	    Logger:    log,
//	})
//	if err != nil {
//	    return err
//	}
//	return d.Start(ctx) // blocks until ctx is cancelled
//
// # Error Handling
//
// Nothing the daemon does is fatal once it has started. Offline periods are
// expected and logged at debug level; other sync and push failures are
// logged and counted in Stats.
package daemon
