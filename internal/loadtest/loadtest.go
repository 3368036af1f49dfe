// Package loadtest drives several simulated devices against one shared cloud
// replica and checks that they converge.
//
// Each device owns a local SQLite store and a reconcile.Engine. Devices write
// concurrently, every write is pushed in the background, and a final sync on
// each device must leave every local store identical to the cloud.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/studysync/studysync/internal/cloud"
	"github.com/studysync/studysync/internal/logging"
	"github.com/studysync/studysync/internal/reconcile"
	"github.com/studysync/studysync/internal/schema"
	"github.com/studysync/studysync/internal/store"
)

// Config sizes a run.
type Config struct {
	// Dir holds the device databases. When empty a temporary directory is
	// used and removed on Close.
	Dir            string
	Devices        int
	Courses        int // per device
	TasksPerDevice int
	EditsPerDevice int
	UserID         string
	Log            *logging.Logger
}

func (c Config) withDefaults() Config {
	if c.Devices <= 0 {
		c.Devices = 4
	}
	if c.Courses <= 0 {
		c.Courses = 3
	}
	if c.TasksPerDevice <= 0 {
		c.TasksPerDevice = 25
	}
	if c.EditsPerDevice < 0 {
		c.EditsPerDevice = 0
	}
	if c.UserID == "" {
		c.UserID = "loadtest-user"
	}
	return c
}

// Device is one simulated installation.
type Device struct {
	Name      string
	DB        *store.DB
	Engine    *reconcile.Engine
	CourseIDs []string
	TaskIDs   []string
}

// Fleet is a set of devices sharing one cloud.
type Fleet struct {
	cfg     Config
	tempDir bool

	Cloud   *cloud.Memory
	Replica *cloud.Replica
	Devices []*Device
}

// LatencyStats captures local write latency.
type LatencyStats struct {
	Min         time.Duration
	Max         time.Duration
	Mean        time.Duration
	P50         time.Duration // Median
	P95         time.Duration
	P99         time.Duration
	TotalWrites int
	Errors      int
	Durations   []time.Duration `json:"-"`
}

// PushStats counts the background pushes of a phase.
type PushStats struct {
	Acked      int
	Superseded int
	Failed     int
}

func (p *PushStats) add(report reconcile.PushReport) {
	switch {
	case report.Cloud.OK():
		p.Acked++
	case errors.Is(report.Cloud.Err, reconcile.ErrSuperseded):
		p.Superseded++
	default:
		p.Failed++
	}
}

// Result summarises Run.
type Result struct {
	Devices   int            `json:"devices"`
	Courses   int            `json:"courses"`
	Tasks     int            `json:"tasks"`
	Edits     int            `json:"edits"`
	Seed      time.Duration  `json:"seed_ns"`
	Converge  time.Duration  `json:"converge_ns"`
	Writes    *LatencyStats  `json:"writes"`
	Pushes    PushStats      `json:"pushes"`
	Merged    int            `json:"merged"`
	Verified  bool           `json:"verified"`
	Breakdown map[string]int `json:"per_device_tasks"`
}

// NewFleet opens one store and engine per device.
func NewFleet(cfg Config) (*Fleet, error) {
	cfg = cfg.withDefaults()
	f := &Fleet{cfg: cfg, Cloud: cloud.NewMemory()}
	f.Replica = cloud.NewReplica(f.Cloud, cfg.Log)

	if cfg.Dir == "" {
		dir, err := os.MkdirTemp("", "studysync-loadtest-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		f.cfg.Dir = dir
		f.tempDir = true
	}

	for i := 0; i < cfg.Devices; i++ {
		name := fmt.Sprintf("device-%02d", i)
		db, err := store.Open(filepath.Join(f.cfg.Dir, name+".db"), cfg.Log)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to open %s: %w", name, err)
		}
		if err := db.InitSchema(); err != nil {
			_ = db.Close()
			_ = f.Close()
			return nil, fmt.Errorf("failed to initialize %s: %w", name, err)
		}
		eng, err := reconcile.New(reconcile.Options{
			Store: db,
			Cloud: f.Replica,
			Log:   logging.OrNop(cfg.Log).With("device", name),
		})
		if err != nil {
			_ = db.Close()
			_ = f.Close()
			return nil, fmt.Errorf("failed to create engine for %s: %w", name, err)
		}
		f.Devices = append(f.Devices, &Device{Name: name, DB: db, Engine: eng})
	}
	return f, nil
}

// Close stops every engine and closes the stores.
func (f *Fleet) Close() error {
	var errs []error
	for _, d := range f.Devices {
		errs = append(errs, d.Engine.Close(), d.DB.Close())
	}
	if f.tempDir {
		errs = append(errs, os.RemoveAll(f.cfg.Dir))
	}
	return errors.Join(errs...)
}

// Seed has every device create its own courses and tasks concurrently and
// waits for their pushes.
func (f *Fleet) Seed(ctx context.Context) (PushStats, error) {
	var (
		mu    sync.Mutex
		stats PushStats
	)
	g, ctx := errgroup.WithContext(ctx)
	for i, d := range f.Devices {
		g.Go(func() error {
			receipts := make([]*reconcile.Receipt, 0, f.cfg.Courses+f.cfg.TasksPerDevice)
			for _, c := range generateCourses(d.Name, f.cfg.UserID, f.cfg.Courses) {
				r, err := d.Engine.Create(ctx, c)
				if err != nil {
					return fmt.Errorf("%s: failed to create course: %w", d.Name, err)
				}
				d.CourseIDs = append(d.CourseIDs, c.ID)
				receipts = append(receipts, r)
			}
			for _, t := range generateTasks(d.Name, f.cfg.UserID, d.CourseIDs, f.cfg.TasksPerDevice, int64(i)) {
				r, err := d.Engine.Create(ctx, t)
				if err != nil {
					return fmt.Errorf("%s: failed to create task: %w", d.Name, err)
				}
				d.TaskIDs = append(d.TaskIDs, t.ID)
				receipts = append(receipts, r)
			}
			local, err := waitAll(ctx, receipts)
			mu.Lock()
			stats.Acked += local.Acked
			stats.Superseded += local.Superseded
			stats.Failed += local.Failed
			mu.Unlock()
			return err
		})
	}
	return stats, g.Wait()
}

// RunConcurrentEdits has every device rewrite its own tasks concurrently.
// Devices never touch each other's records, so every edit must survive.
// The returned latency covers the local write only.
func (f *Fleet) RunConcurrentEdits(ctx context.Context) (*LatencyStats, PushStats, error) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		all       []time.Duration
		errorsOut int
		pushes    PushStats
	)
	errCh := make(chan error, len(f.Devices))

	for i, d := range f.Devices {
		wg.Add(1)
		go func(seed int64, d *Device) {
			defer wg.Done()
			if len(d.TaskIDs) == 0 {
				return
			}
			rng := rand.New(rand.NewSource(seed))
			durations := make([]time.Duration, 0, f.cfg.EditsPerDevice)
			receipts := make([]*reconcile.Receipt, 0, f.cfg.EditsPerDevice)
			failed := 0

			for j := 0; j < f.cfg.EditsPerDevice; j++ {
				id := d.TaskIDs[rng.Intn(len(d.TaskIDs))]
				task, err := d.DB.GetTask(ctx, id)
				if err != nil {
					failed++
					continue
				}
				task.Title = fmt.Sprintf("%s edit %d", d.Name, j)
				task.Priority = schema.Priority(rng.Intn(3))
				if j%5 == 0 {
					task.Status = schema.StatusInProgress
				}

				start := time.Now()
				r, err := d.Engine.Update(ctx, task)
				durations = append(durations, time.Since(start))
				if err != nil {
					failed++
					continue
				}
				receipts = append(receipts, r)
			}

			local, err := waitAll(ctx, receipts)
			if err != nil {
				errCh <- fmt.Errorf("%s: %w", d.Name, err)
			}
			mu.Lock()
			all = append(all, durations...)
			errorsOut += failed
			pushes.Acked += local.Acked
			pushes.Superseded += local.Superseded
			pushes.Failed += local.Failed
			mu.Unlock()
		}(int64(i)+1, d)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	stats := computeLatencyStats(all)
	stats.Errors = errorsOut
	return stats, pushes, errors.Join(errs...)
}

// Converge runs a full sync on every device concurrently and returns how
// many records were merged in total.
func (f *Fleet) Converge(ctx context.Context) (int, error) {
	var merged int
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for _, d := range f.Devices {
		g.Go(func() error {
			report, err := d.Engine.Sync(ctx, f.cfg.UserID)
			if err != nil {
				return fmt.Errorf("%s: sync failed: %w", d.Name, err)
			}
			for kind, perr := range report.PullErrors {
				return fmt.Errorf("%s: pull %s failed: %w", d.Name, kind, perr)
			}
			mu.Lock()
			merged += report.Merged()
			mu.Unlock()
			return nil
		})
	}
	return merged, g.Wait()
}

// Verify checks that every device holds exactly the cloud's tasks and
// courses, all marked synced.
func (f *Fleet) Verify(ctx context.Context) error {
	for _, kind := range []schema.Kind{schema.KindCourse, schema.KindTask} {
		remote, err := f.Replica.FetchAll(ctx, kind, f.cfg.UserID)
		if err != nil {
			return fmt.Errorf("failed to fetch %s from cloud: %w", kind.Collection(), err)
		}
		want := fingerprint(remote)

		for _, d := range f.Devices {
			local, err := listLocal(ctx, d.DB, kind, f.cfg.UserID)
			if err != nil {
				return fmt.Errorf("%s: %w", d.Name, err)
			}
			if len(local) != len(want) {
				return fmt.Errorf("%s has %d %s, cloud has %d", d.Name, len(local), kind.Collection(), len(want))
			}
			for _, rec := range local {
				id := rec.RecordID()
				w, ok := want[id]
				if !ok {
					return fmt.Errorf("%s has %s %s missing from the cloud", d.Name, kind, id)
				}
				if got := stateOf(rec); got != w {
					return fmt.Errorf("%s: %s %s diverged: local %+v, cloud %+v", d.Name, kind, id, got, w)
				}
				if !rec.Synced() {
					return fmt.Errorf("%s: %s %s still unsynced", d.Name, kind, id)
				}
			}
		}
	}
	return nil
}

// Run seeds, edits, converges and verifies a fleet.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	fleet, err := NewFleet(cfg)
	if err != nil {
		return nil, err
	}
	defer fleet.Close()
	cfg = fleet.cfg

	res := &Result{
		Devices:   cfg.Devices,
		Courses:   cfg.Devices * cfg.Courses,
		Tasks:     cfg.Devices * cfg.TasksPerDevice,
		Edits:     cfg.Devices * cfg.EditsPerDevice,
		Breakdown: make(map[string]int, cfg.Devices),
	}

	start := time.Now()
	seeded, err := fleet.Seed(ctx)
	res.Seed = time.Since(start)
	res.Pushes = seeded
	if err != nil {
		return res, fmt.Errorf("seed failed: %w", err)
	}

	writes, edited, err := fleet.RunConcurrentEdits(ctx)
	res.Writes = writes
	res.Pushes.Acked += edited.Acked
	res.Pushes.Superseded += edited.Superseded
	res.Pushes.Failed += edited.Failed
	if err != nil {
		return res, fmt.Errorf("edits failed: %w", err)
	}

	start = time.Now()
	res.Merged, err = fleet.Converge(ctx)
	res.Converge = time.Since(start)
	if err != nil {
		return res, err
	}

	if err := fleet.Verify(ctx); err != nil {
		return res, fmt.Errorf("verification failed: %w", err)
	}
	res.Verified = true
	for _, d := range fleet.Devices {
		n, err := d.DB.CountTasks(ctx, cfg.UserID)
		if err != nil {
			return res, err
		}
		res.Breakdown[d.Name] = n
	}
	return res, nil
}

// ===== helpers =====

func waitAll(ctx context.Context, receipts []*reconcile.Receipt) (PushStats, error) {
	var stats PushStats
	for _, r := range receipts {
		report, err := r.Wait(ctx)
		if err != nil {
			return stats, err
		}
		stats.add(report)
	}
	if stats.Failed > 0 {
		return stats, fmt.Errorf("%d cloud pushes failed", stats.Failed)
	}
	return stats, nil
}

type recordState struct {
	Modified schema.Millis
	Title    string
}

func stateOf(rec schema.Record) recordState {
	s := recordState{Modified: rec.Modified()}
	switch r := rec.(type) {
	case *schema.Task:
		s.Title = r.Title
	case *schema.Course:
		s.Title = r.Name
	}
	return s
}

func fingerprint(recs []schema.Record) map[string]recordState {
	out := make(map[string]recordState, len(recs))
	for _, rec := range recs {
		out[rec.RecordID()] = stateOf(rec)
	}
	return out
}

func listLocal(ctx context.Context, db *store.DB, kind schema.Kind, userID string) ([]schema.Record, error) {
	switch kind {
	case schema.KindTask:
		tasks, err := db.ListTasks(ctx, userID)
		if err != nil {
			return nil, err
		}
		out := make([]schema.Record, len(tasks))
		for i, t := range tasks {
			out[i] = t
		}
		return out, nil
	case schema.KindCourse:
		courses, err := db.ListCourses(ctx, userID)
		if err != nil {
			return nil, err
		}
		out := make([]schema.Record, len(courses))
		for i, c := range courses {
			out[i] = c
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported kind %q", kind)
}

func generateCourses(device, userID string, count int) []*schema.Course {
	names := []string{"Biology", "Calculus", "History", "Chemistry", "Literature"}
	out := make([]*schema.Course, count)
	for i := range out {
		out[i] = &schema.Course{
			ID:          fmt.Sprintf("%s-course-%02d", device, i),
			UserID:      userID,
			Name:        names[i%len(names)],
			Code:        fmt.Sprintf("LT%03d", i),
			DayOfWeek:   []int{1 + i%5},
			StartTime:   "09:00",
			EndTime:     "10:15",
			CreditHours: 3,
		}
	}
	return out
}

// generateTasks spreads tasks over the device's courses with staggered due
// dates, deterministic per seed.
func generateTasks(device, userID string, courseIDs []string, count int, seed int64) []*schema.Task {
	rng := rand.New(rand.NewSource(seed + 42))
	types := []schema.TaskType{schema.TaskAssignment, schema.TaskExam, schema.TaskReading, schema.TaskProject}
	base := time.Now().Add(24 * time.Hour)

	out := make([]*schema.Task, count)
	for i := range out {
		due := schema.FromTime(base.Add(time.Duration(rng.Intn(14*24)) * time.Hour))
		t := &schema.Task{
			ID:       fmt.Sprintf("%s-task-%04d", device, i),
			UserID:   userID,
			Title:    fmt.Sprintf("Task %d", i),
			DueDate:  &due,
			Priority: schema.Priority(i % 3),
			Type:     types[i%len(types)],
		}
		if len(courseIDs) > 0 {
			t.CourseID = courseIDs[i%len(courseIDs)]
		}
		out[i] = t
	}
	return out
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		Mean:        sum / time.Duration(len(durations)),
		P50:         sorted[len(sorted)*50/100],
		P95:         sorted[len(sorted)*95/100],
		P99:         sorted[len(sorted)*99/100],
		TotalWrites: len(durations),
		Durations:   sorted,
	}
}

// PrintStats writes latency statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Local write latency:\n")
	fmt.Fprintf(w, "  Total Writes:  %d\n", s.TotalWrites)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
