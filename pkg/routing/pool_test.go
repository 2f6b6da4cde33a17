package routing

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"stratos-hq/charon/pkg/proxy"
)

func newTestPool(t *testing.T, cooldown time.Duration, targets ...*Target) *Pool {
	t.Helper()
	pool, err := NewPool(targets, cooldown)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	return pool
}

func TestSelectWeightedDistribution(t *testing.T) {
	heavy := &Target{Name: "web", Host: "10.0.0.1", Port: 8001, Weight: 10}
	light := &Target{Name: "web", Host: "10.0.0.2", Port: 8001, Weight: 5}
	pool := newTestPool(t, time.Minute, heavy, light)

	const calls = 1500
	counts := make(map[string]int)
	for i := 0; i < calls; i++ {
		target, err := pool.Select("web")
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		counts[target.Host]++
	}

	wantShare := 10.0 / 15.0
	gotShare := float64(counts["10.0.0.1"]) / calls
	if math.Abs(gotShare-wantShare) > 0.03 {
		t.Errorf("heavy target share = %.3f, want %.3f ±0.03 (counts: %v)", gotShare, wantShare, counts)
	}
}

func TestSelectUnknownGroup(t *testing.T) {
	pool := newTestPool(t, time.Minute,
		&Target{Name: "web", Host: "10.0.0.1", Port: 8001, Weight: 1})

	_, err := pool.Select("missing")
	if !errors.Is(err, proxy.ErrNoHealthyTarget) {
		t.Errorf("Select(missing) error = %v, want ErrNoHealthyTarget", err)
	}
}

func TestMarkUnhealthyExcludesTarget(t *testing.T) {
	bad := &Target{Name: "web", Host: "10.0.0.1", Port: 8001, Weight: 10}
	good := &Target{Name: "web", Host: "10.0.0.2", Port: 8001, Weight: 1}
	pool := newTestPool(t, time.Minute, bad, good)

	pool.MarkUnhealthy(bad)

	for i := 0; i < 50; i++ {
		target, err := pool.Select("web")
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		if target == bad {
			t.Fatal("Select() returned a target in cool-down")
		}
	}
}

func TestUnhealthyTargetRecoversAfterCooldown(t *testing.T) {
	only := &Target{Name: "web", Host: "10.0.0.1", Port: 8001, Weight: 1}
	pool := newTestPool(t, 20*time.Millisecond, only)

	pool.MarkUnhealthy(only)
	if _, err := pool.Select("web"); !errors.Is(err, proxy.ErrNoHealthyTarget) {
		t.Fatalf("Select() during cool-down error = %v, want ErrNoHealthyTarget", err)
	}

	time.Sleep(30 * time.Millisecond)

	target, err := pool.Select("web")
	if err != nil {
		t.Fatalf("Select() after cool-down error = %v", err)
	}
	if target != only {
		t.Error("Select() did not return the recovered target")
	}
}

func TestSelectAllUnhealthy(t *testing.T) {
	a := &Target{Name: "web", Host: "10.0.0.1", Port: 8001, Weight: 1}
	b := &Target{Name: "web", Host: "10.0.0.2", Port: 8001, Weight: 1}
	pool := newTestPool(t, time.Minute, a, b)

	pool.MarkUnhealthy(a)
	pool.MarkUnhealthy(b)

	if _, err := pool.Select("web"); !errors.Is(err, proxy.ErrNoHealthyTarget) {
		t.Errorf("Select() error = %v, want ErrNoHealthyTarget", err)
	}
}

func TestNewPoolRejectsZeroWeight(t *testing.T) {
	_, err := NewPool([]*Target{
		{Name: "web", Host: "10.0.0.1", Port: 8001, Weight: 0},
	}, time.Minute)
	if err == nil {
		t.Fatal("NewPool() with zero weight should return error")
	}
}

func TestSelectConcurrent(t *testing.T) {
	a := &Target{Name: "web", Host: "10.0.0.1", Port: 8001, Weight: 2}
	b := &Target{Name: "web", Host: "10.0.0.2", Port: 8001, Weight: 1}
	pool := newTestPool(t, time.Minute, a, b)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if _, err := pool.Select("web"); err != nil {
					t.Errorf("Select() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
