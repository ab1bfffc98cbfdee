package health

import (
	"context"
	"sync"
	"testing"
)

func ok(name string) Checker {
	return func(_ context.Context) Status {
		return Status{Name: name, Healthy: true}
	}
}

func TestEmptyRegistryIsHealthy(t *testing.T) {
	healthy, statuses := NewRegistry().CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("got %d statuses, want 0", len(statuses))
	}
}

func TestResultsKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("database", ok("database"))
	r.Register("feed", ok("feed"))
	r.Register("dispatcher", ok("dispatcher"))

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("all-healthy registry reported unhealthy")
	}
	want := []string{"database", "feed", "dispatcher"}
	for i, name := range want {
		if statuses[i].Name != name {
			t.Errorf("status[%d] = %q, want %q", i, statuses[i].Name, name)
		}
	}
}

func TestOneFailureFlipsAggregate(t *testing.T) {
	r := NewRegistry()
	r.Register("database", ok("database"))
	r.Register("feed", func(_ context.Context) Status {
		return Status{Name: "feed", Healthy: false, Detail: "hub stopped"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with failing checker reported healthy")
	}
	if statuses[1].Detail != "hub stopped" {
		t.Errorf("detail = %q, want %q", statuses[1].Detail, "hub stopped")
	}
}

func TestReRegisterReplacesChecker(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return Status{Name: "database", Healthy: false}
	})
	r.Register("database", ok("database"))

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("replaced checker should report healthy")
	}
	if len(statuses) != 1 {
		t.Fatalf("got %d statuses, want 1", len(statuses))
	}
}

func TestConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("probe", ok("probe"))
		}()
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}
	wg.Wait()
}
