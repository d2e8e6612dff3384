package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi/internal/events"
	"github.com/friendsincode/bragi/internal/models"
)

type fakeRules struct {
	mu    sync.Mutex
	rules []models.AlertRule
}

func (f *fakeRules) ListEnabledAlertRules(context.Context) ([]models.AlertRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AlertRule(nil), f.rules...), nil
}

func (f *fakeRules) set(rules []models.AlertRule) {
	f.mu.Lock()
	f.rules = rules
	f.mu.Unlock()
}

type fakeTrigger struct {
	mu    sync.Mutex
	fired []int
}

func (f *fakeTrigger) TriggerAlert(_ context.Context, zoneID int, _ string, _ int) error {
	f.mu.Lock()
	f.fired = append(f.fired, zoneID)
	f.mu.Unlock()
	return nil
}

func (f *fakeTrigger) zones() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.fired...)
}

func TestValidateCronExpr(t *testing.T) {
	cases := []struct {
		expr string
		ok   bool
	}{
		{"0 7 * * 1-5", true},
		{"@daily", true},
		{"*/5 * * * *", true},
		{"61 * * * *", false},
		{"not a cron", false},
		{"", false},
	}
	for _, tc := range cases {
		err := ValidateCronExpr(tc.expr)
		if (err == nil) != tc.ok {
			t.Errorf("ValidateCronExpr(%q) = %v, want ok=%v", tc.expr, err, tc.ok)
		}
	}
}

func TestReloadSkipsBrokenRules(t *testing.T) {
	rules := &fakeRules{rules: []models.AlertRule{
		{Name: "morning", CronExpr: "0 7 * * *", Sound: "chime", Zones: []int{1}},
		{Name: "broken", CronExpr: "nope", Sound: "chime", Zones: []int{2}},
	}}
	s := NewScheduler(rules, &fakeTrigger{}, events.NewBus(), zerolog.Nop())

	if err := s.reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer s.stop()
	if got := s.armed(); got != 1 {
		t.Fatalf("armed entries = %d, want 1", got)
	}
}

func TestFireTriggersEveryZone(t *testing.T) {
	trigger := &fakeTrigger{}
	s := NewScheduler(&fakeRules{}, trigger, events.NewBus(), zerolog.Nop())

	s.fire(models.AlertRule{Name: "bell", Sound: "bell", Zones: []int{3, 7}, Volume: 60})

	got := trigger.zones()
	if len(got) != 2 || got[0] != 3 || got[1] != 7 {
		t.Fatalf("fired zones = %v", got)
	}
}

func TestRunReloadsOnRuleChange(t *testing.T) {
	rules := &fakeRules{}
	bus := events.NewBus()
	s := NewScheduler(rules, &fakeTrigger{}, bus, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.Run(ctx); err != nil {
			t.Errorf("run: %v", err)
		}
	}()

	// Give Run a moment to subscribe, then publish a rule change and
	// confirm the new rule gets armed.
	time.Sleep(50 * time.Millisecond)
	rules.set([]models.AlertRule{{Name: "new", CronExpr: "0 9 * * *", Zones: []int{1}}})
	bus.Publish(events.EventAuditAlertCreate, events.Payload{"id": "x"})

	deadline := time.After(2 * time.Second)
	for s.armed() != 1 {
		select {
		case <-deadline:
			t.Fatal("schedule never picked the new rule up")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
