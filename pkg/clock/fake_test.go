package clock

import (
	"testing"
	"time"
)

func TestFakeTickAdvancesAndFires(t *testing.T) {
	start := time.Date(2024, time.May, 10, 23, 59, 59, 0, time.UTC)
	clk := NewFake(start)
	ticker := clk.NewTicker(time.Second)

	if n := clk.Tick(); n != 1 {
		t.Fatalf("expected one ticker fired, got %d", n)
	}
	select {
	case at := <-ticker.C():
		if !at.Equal(start.Add(time.Second)) {
			t.Fatalf("unexpected tick time %s", at)
		}
	default:
		t.Fatal("expected a tick to be queued")
	}
	if DateKey(clk.Now()) != "2024-05-11" {
		t.Fatalf("expected date rollover, got %s", DateKey(clk.Now()))
	}

	// A full channel drops the tick instead of blocking.
	clk.Tick()
	clk.Tick()

	ticker.Stop()
	if clk.Live() != 0 || clk.Tick() != 0 {
		t.Fatal("stopped ticker should not fire")
	}
}

func TestInLocationShiftsDateKey(t *testing.T) {
	aest := time.FixedZone("AEST", 10*60*60)
	clk := InLocation(NewFake(time.Date(2024, time.May, 9, 22, 30, 0, 0, time.UTC)), aest)

	if got := DateKey(clk.Now()); got != "2024-05-10" {
		t.Fatalf("expected the configured zone's date, got %s", got)
	}
	if clk.Now().Location() != aest {
		t.Fatalf("expected Now in %s, got %s", aest, clk.Now().Location())
	}
	if InLocation(Real{}, nil) != (Real{}) {
		t.Fatal("nil location should return the clock unchanged")
	}
}
