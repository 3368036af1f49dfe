package cloud

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/studysync/studysync/internal/schema"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), RedisOptions{Addr: mr.Addr(), Prefix: "test"}, nil)
	if err != nil {
		t.Fatalf("NewRedis() failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, mr
}

// backends runs fn against both DocumentStore implementations.
func backends(t *testing.T, fn func(t *testing.T, s DocumentStore)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
	t.Run("redis", func(t *testing.T) {
		r, _ := newTestRedis(t)
		fn(t, r)
	})
}

func TestDocumentStore_PutGetDelete(t *testing.T) {
	backends(t, func(t *testing.T, s DocumentStore) {
		ctx := context.Background()

		if err := s.Put(ctx, "tasks", "t1", "u1", []byte(`{"v":1}`)); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
		if err := s.Put(ctx, "tasks", "t1", "u1", []byte(`{"v":2}`)); err != nil {
			t.Fatalf("second Put() failed: %v", err)
		}
		got, err := s.Get(ctx, "tasks", "t1")
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if string(got) != `{"v":2}` {
			t.Errorf("Get() = %s, want replaced document", got)
		}

		if err := s.Delete(ctx, "tasks", "t1"); err != nil {
			t.Fatalf("Delete() failed: %v", err)
		}
		if _, err := s.Get(ctx, "tasks", "t1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
		}
		if err := s.Delete(ctx, "tasks", "t1"); err != nil {
			t.Errorf("Delete() of missing doc failed: %v", err)
		}
	})
}

func TestDocumentStore_FindByUser(t *testing.T) {
	backends(t, func(t *testing.T, s DocumentStore) {
		ctx := context.Background()

		s.Put(ctx, "courses", "c1", "u1", []byte(`{"id":"c1"}`))
		s.Put(ctx, "courses", "c2", "u1", []byte(`{"id":"c2"}`))
		s.Put(ctx, "courses", "c3", "u2", []byte(`{"id":"c3"}`))
		s.Put(ctx, "tasks", "t1", "u1", []byte(`{"id":"t1"}`))

		docs, err := s.FindByUser(ctx, "courses", "u1")
		if err != nil {
			t.Fatalf("FindByUser() failed: %v", err)
		}
		if len(docs) != 2 {
			t.Errorf("FindByUser returned %d docs, want 2", len(docs))
		}

		empty, err := s.FindByUser(ctx, "courses", "nobody")
		if err != nil {
			t.Fatalf("FindByUser() failed: %v", err)
		}
		if len(empty) != 0 {
			t.Errorf("FindByUser(nobody) = %d docs", len(empty))
		}
	})
}

func TestRedis_OwnerChangeMovesIndex(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	r.Put(ctx, "tasks", "t1", "u1", []byte(`{}`))
	r.Put(ctx, "tasks", "t1", "u2", []byte(`{}`))

	old, _ := r.FindByUser(ctx, "tasks", "u1")
	if len(old) != 0 {
		t.Errorf("previous owner still indexed")
	}
	cur, _ := r.FindByUser(ctx, "tasks", "u2")
	if len(cur) != 1 {
		t.Errorf("new owner not indexed")
	}
}

func TestRedis_SkipsStaleIndex(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	r.Put(ctx, "tasks", "t1", "u1", []byte(`{}`))
	r.Put(ctx, "tasks", "t2", "u1", []byte(`{}`))
	mr.Del("test:tasks:t2")

	docs, err := r.FindByUser(ctx, "tasks", "u1")
	if err != nil {
		t.Fatalf("FindByUser() failed: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("FindByUser returned %d docs, want 1", len(docs))
	}
}

func TestNewRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := NewRedis(context.Background(), RedisOptions{Addr: addr}, nil); err == nil {
		t.Fatal("NewRedis() succeeded against a closed server")
	}
	if _, err := NewRedis(context.Background(), RedisOptions{}, nil); err == nil {
		t.Fatal("NewRedis() accepted an empty address")
	}
}

func TestUnconfigured(t *testing.T) {
	ctx := context.Background()
	r := NewReplica(Unconfigured{}, nil)
	task := &schema.Task{ID: "t1", UserID: "u1", Title: "Essay"}
	if err := r.PutRecord(ctx, task); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("PutRecord() = %v, want ErrNotConfigured", err)
	}
	if _, err := r.FetchAll(ctx, schema.KindTask, "u1"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("FetchAll() = %v, want ErrNotConfigured", err)
	}
	if err := r.DeleteRecord(ctx, schema.KindTask, "t1"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("DeleteRecord() = %v, want ErrNotConfigured", err)
	}
}

func TestMemory_FaultInjection(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.FailNext(1)
	if err := m.Put(ctx, "tasks", "t1", "u1", []byte(`{}`)); !errors.Is(err, ErrInjected) {
		t.Fatalf("Put() error = %v, want ErrInjected", err)
	}
	if err := m.Put(ctx, "tasks", "t1", "u1", []byte(`{}`)); err != nil {
		t.Fatalf("Put() after one failure: %v", err)
	}

	m.SetFailing(true)
	if _, err := m.FindByUser(ctx, "tasks", "u1"); !errors.Is(err, ErrInjected) {
		t.Errorf("FindByUser() error = %v, want ErrInjected", err)
	}
	m.SetFailing(false)
	if m.Puts() != 1 {
		t.Errorf("Puts() = %d, want 1", m.Puts())
	}
}

func TestReplica_RecordRoundTrip(t *testing.T) {
	backends(t, func(t *testing.T, s DocumentStore) {
		ctx := context.Background()
		rep := NewReplica(s, nil)

		due := schema.Millis(1000)
		task := &schema.Task{ID: "t1", UserID: "u1", Title: "Essay", DueDate: &due, LastUpdated: 7}
		if err := rep.PutRecord(ctx, task); err != nil {
			t.Fatalf("PutRecord() failed: %v", err)
		}
		if task.IsSynced {
			t.Error("PutRecord mutated its argument")
		}

		recs, err := rep.FetchAll(ctx, schema.KindTask, "u1")
		if err != nil {
			t.Fatalf("FetchAll() failed: %v", err)
		}
		if len(recs) != 1 {
			t.Fatalf("FetchAll returned %d records", len(recs))
		}
		got := recs[0].(*schema.Task)
		want := task.Copy()
		want.IsSynced = true
		if !got.Equal(want) {
			t.Errorf("cloud copy = %+v, want %+v", got, want)
		}

		if err := rep.DeleteRecord(ctx, schema.KindTask, "t1"); err != nil {
			t.Fatalf("DeleteRecord() failed: %v", err)
		}
		if _, err := rep.GetRecord(ctx, schema.KindTask, "t1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetRecord() error = %v, want ErrNotFound", err)
		}
	})
}

func TestReplica_SkipsMalformedDocuments(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Put(ctx, "resources", "bad", "u1", []byte(`not json`))
	m.Put(ctx, "resources", "good", "u1", []byte(`{"id":"good","userId":"u1","tags":["a"]}`))

	recs, err := NewReplica(m, nil).FetchAll(ctx, schema.KindResource, "u1")
	if err != nil {
		t.Fatalf("FetchAll() failed: %v", err)
	}
	if len(recs) != 1 || recs[0].RecordID() != "good" {
		t.Errorf("FetchAll = %v", recs)
	}
}

func TestReplica_Notifications(t *testing.T) {
	backends(t, func(t *testing.T, s DocumentStore) {
		ctx := context.Background()
		rep := NewReplica(s, nil)

		for _, taskID := range []string{"t1", "t2"} {
			n := &schema.ScheduledNotification{UserID: "u1", TaskID: taskID, Title: "Due soon", ScheduledTime: 100}
			if err := rep.PutNotification(ctx, n); err != nil {
				t.Fatalf("PutNotification() failed: %v", err)
			}
		}
		if _, err := s.Get(ctx, schema.CollectionNotifications, "u1_t1"); err != nil {
			t.Errorf("notification not stored under userId_taskId: %v", err)
		}

		if err := rep.DeleteNotification(ctx, "u1", "t1"); err != nil {
			t.Fatalf("DeleteNotification() failed: %v", err)
		}
		n, err := rep.DeleteNotificationsForUser(ctx, "u1")
		if err != nil {
			t.Fatalf("DeleteNotificationsForUser() failed: %v", err)
		}
		if n != 1 {
			t.Errorf("deleted %d notifications, want 1", n)
		}
		left, _ := rep.Notifications(ctx, "u1")
		if len(left) != 0 {
			t.Errorf("%d notifications left", len(left))
		}
	})
}

func TestReplica_Users(t *testing.T) {
	rep := NewReplica(NewMemory(), nil)
	ctx := context.Background()

	u := &schema.User{ID: "u1", Name: "Ada", Email: "ada@uni.edu"}
	if err := rep.PutUser(ctx, u); err != nil {
		t.Fatalf("PutUser() failed: %v", err)
	}
	got, err := rep.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser() failed: %v", err)
	}
	if *got != *u {
		t.Errorf("GetUser = %+v, want %+v", got, u)
	}
}
