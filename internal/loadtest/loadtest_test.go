package loadtest

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/studysync/studysync/internal/schema"
)

// TestFleetSeed verifies that every device pushes its own records.
func TestFleetSeed(t *testing.T) {
	fleet, err := NewFleet(Config{Dir: t.TempDir(), Devices: 3, Courses: 2, TasksPerDevice: 10})
	if err != nil {
		t.Fatalf("Failed to create fleet: %v", err)
	}
	defer fleet.Close()

	stats, err := fleet.Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if stats.Acked != 3*(2+10) {
		t.Errorf("Expected 36 acked pushes, got %+v", stats)
	}
	if n := fleet.Cloud.Len(schema.KindTask.Collection()); n != 30 {
		t.Errorf("Expected 30 tasks in the cloud, got %d", n)
	}

	// Before a sync each device only knows its own tasks.
	for _, d := range fleet.Devices {
		n, err := d.DB.CountTasks(context.Background(), "loadtest-user")
		if err != nil {
			t.Fatalf("CountTasks failed: %v", err)
		}
		if n != 10 {
			t.Errorf("%s: expected 10 local tasks before sync, got %d", d.Name, n)
		}
	}
}

// TestFleetConverges validates that concurrent edits on every device end in
// identical replicas.
func TestFleetConverges(t *testing.T) {
	fleet, err := NewFleet(Config{Dir: t.TempDir(), Devices: 4, Courses: 2, TasksPerDevice: 15, EditsPerDevice: 30})
	if err != nil {
		t.Fatalf("Failed to create fleet: %v", err)
	}
	defer fleet.Close()
	ctx := context.Background()

	if _, err := fleet.Seed(ctx); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	writes, pushes, err := fleet.RunConcurrentEdits(ctx)
	if err != nil {
		t.Fatalf("Edits failed: %v", err)
	}
	if writes.Errors > 0 {
		t.Errorf("Got %d errors during edits", writes.Errors)
	}
	if writes.TotalWrites != 120 {
		t.Errorf("Expected 120 writes, got %d", writes.TotalWrites)
	}
	if pushes.Failed > 0 || pushes.Acked+pushes.Superseded != 120 {
		t.Errorf("Unexpected push outcomes: %+v", pushes)
	}

	merged, err := fleet.Converge(ctx)
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}
	// Every device pulls the other three devices' courses and tasks.
	if want := 4 * 3 * (2 + 15); merged != want {
		t.Errorf("Expected %d merged records, got %d", want, merged)
	}
	if err := fleet.Verify(ctx); err != nil {
		t.Errorf("Replicas diverged: %v", err)
	}
}

// TestVerifyDetectsDivergence makes sure Verify is not vacuous.
func TestVerifyDetectsDivergence(t *testing.T) {
	fleet, err := NewFleet(Config{Dir: t.TempDir(), Devices: 2, Courses: 1, TasksPerDevice: 3})
	if err != nil {
		t.Fatalf("Failed to create fleet: %v", err)
	}
	defer fleet.Close()
	ctx := context.Background()

	if _, err := fleet.Seed(ctx); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if err := fleet.Verify(ctx); err == nil {
		t.Fatal("Expected divergence before converging")
	}
	if _, err := fleet.Converge(ctx); err != nil {
		t.Fatalf("Converge failed: %v", err)
	}
	if err := fleet.Verify(ctx); err != nil {
		t.Fatalf("Verify failed after converging: %v", err)
	}

	d := fleet.Devices[0]
	task, err := d.DB.GetTask(ctx, d.TaskIDs[0])
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	task.Title = "changed behind the engine's back"
	if err := d.DB.UpsertTask(ctx, task); err != nil {
		t.Fatalf("UpsertTask failed: %v", err)
	}
	if err := fleet.Verify(ctx); err == nil || !strings.Contains(err.Error(), "diverged") {
		t.Errorf("Expected a divergence error, got %v", err)
	}
}

func TestRun(t *testing.T) {
	res, err := Run(context.Background(), Config{Devices: 3, Courses: 1, TasksPerDevice: 5, EditsPerDevice: 10})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Verified {
		t.Error("Expected a verified run")
	}
	for name, n := range res.Breakdown {
		if n != 15 {
			t.Errorf("%s: expected 15 tasks after converging, got %d", name, n)
		}
	}

	var buf bytes.Buffer
	res.Writes.PrintStats(&buf)
	if !strings.Contains(buf.String(), "Total Writes:  30") {
		t.Errorf("Unexpected stats output:\n%s", buf.String())
	}
	if res.Writes.Mean > time.Second {
		t.Errorf("Mean local write time too high: %v", res.Writes.Mean)
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}
	stats := computeLatencyStats(durations)
	if stats.Min != time.Millisecond || stats.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v", stats.Min, stats.Max)
	}
	if stats.P50 != 51*time.Millisecond || stats.P95 != 96*time.Millisecond || stats.P99 != 100*time.Millisecond {
		t.Errorf("Percentiles = %v %v %v", stats.P50, stats.P95, stats.P99)
	}
	if stats.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v", stats.Mean)
	}
	if durations[0] != 100*time.Millisecond {
		t.Error("Input slice was reordered")
	}

	if empty := computeLatencyStats(nil); empty.TotalWrites != 0 {
		t.Errorf("Expected empty stats, got %+v", empty)
	}
}
