package costtracker

import "testing"

func TestCostTracker_RecordApiCall_DerivesFromPricingTable(t *testing.T) {
	tracker := New(1.0, 0.8)

	amount := tracker.RecordApiCall("openai", "classify", nil)
	if amount != 0.02 {
		t.Errorf("expected classify cost 0.02, got %v", amount)
	}

	amount = tracker.RecordApiCall("openai", "embed", nil)
	if amount != 0.5 {
		t.Errorf("expected default openai cost 0.5 for untiered operation, got %v", amount)
	}

	amount = tracker.RecordApiCall("gmail", "list", nil)
	if amount != 0 {
		t.Errorf("expected gmail calls to be free, got %v", amount)
	}
}

func TestCostTracker_RecordApiCall_ExplicitCostOverridesTable(t *testing.T) {
	tracker := New(1.0, 0.8)
	explicit := 0.07
	amount := tracker.RecordApiCall("firecrawl", "extract", &explicit)
	if amount != 0.07 {
		t.Errorf("expected explicit cost to win, got %v", amount)
	}
}

func TestCostTracker_CanAfford(t *testing.T) {
	tracker := New(1.0, 0.8)
	tracker.RecordApiCall("openai", "analyze", nil) // 0.02

	if !tracker.CanAfford(0.5) {
		t.Error("expected 0.5 more to be affordable under a 1.0 ceiling")
	}
	if tracker.CanAfford(2.0) {
		t.Error("expected 2.0 more to exceed the ceiling")
	}
}

func TestCostTracker_IsApproachingLimit(t *testing.T) {
	tracker := New(1.0, 0.8)
	explicit := 0.85
	tracker.RecordApiCall("openai", "analyze", &explicit)

	if !tracker.IsApproachingLimit() {
		t.Error("expected 0.85 of a 1.0 ceiling to be approaching limit")
	}
}

func TestCostTracker_ShouldStop(t *testing.T) {
	tracker := New(1.0, 0.8)
	explicit := 1.0
	tracker.RecordApiCall("openai", "analyze", &explicit)

	if !tracker.ShouldStop() {
		t.Error("expected spend at the ceiling to trigger ShouldStop")
	}
}

func TestCostTracker_Reset(t *testing.T) {
	tracker := New(1.0, 0.8)
	tracker.RecordApiCall("openai", "classify", nil)
	tracker.Reset()

	if tracker.TotalCost() != 0 {
		t.Errorf("expected total cost reset to 0, got %v", tracker.TotalCost())
	}
	if tracker.CallCount("openai", "classify") != 0 {
		t.Error("expected call counts reset")
	}
}

func TestCostTracker_RecordApiCall_CountsStayConsistentAcrossConcurrentCalls(t *testing.T) {
	tracker := New(1.0, 0.8)
	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		go func() {
			tracker.RecordApiCall("openai", "classify", nil)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}

	// RecordApiCall never refuses — CostTracker only reports; callers
	// must check CanAfford/ShouldStop before issuing the call that would
	// be recorded. This test only asserts the counters stay consistent
	// under concurrent writers.
	if tracker.CallCount("openai", "classify") != 50 {
		t.Errorf("expected 50 recorded calls, got %d", tracker.CallCount("openai", "classify"))
	}
}
