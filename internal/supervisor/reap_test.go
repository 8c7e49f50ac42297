package supervisor

import (
	"os/exec"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kil/ubervisor/internal/catalog"
	"github.com/kil/ubervisor/internal/notify"
)

func newTestEngine() *Engine {
	log := logrus.New()
	log.SetOutput(discardWriter{})
	return New(catalog.New(), notify.NewBus(), log)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func failingExitErr(t *testing.T) error {
	t.Helper()
	cmd := exec.Command("false")
	_ = cmd.Run()
	return &exec.ExitError{ProcessState: cmd.ProcessState}
}

func TestReapTransitionsToBrokenAfterErrorMaxTimesInstances(t *testing.T) {
	e := newTestEngine()
	g := &catalog.Group{
		Name:      "flaky",
		Command:   []string{"/bin/false"},
		Instances: 2,
		Status:    catalog.StatusRunning,
		KillSig:   15,
		Childs:    make([]*catalog.Process, 2),
	}
	if err := e.Cat.Add(g); err != nil {
		t.Fatalf("add: %v", err)
	}

	waitErr := failingExitErr(t)
	threshold := ErrorMax * g.Instances

	for i := 0; i < threshold-1; i++ {
		p := &catalog.Process{PID: 1000 + i, Instance: 0, Group: g}
		e.reap(p, waitErr)
		if g.Status == catalog.StatusBroken {
			t.Fatalf("group went BROKEN after only %d failures, want %d", i+1, threshold)
		}
	}

	p := &catalog.Process{PID: 2000, Instance: 0, Group: g}
	e.reap(p, waitErr)
	if g.Status != catalog.StatusBroken {
		t.Fatalf("expected BROKEN after %d failures, got %v", threshold, g.Status)
	}
}

func TestReapResetsErrorCountAfterErrorPeriodElapses(t *testing.T) {
	e := newTestEngine()
	g := &catalog.Group{
		Name:      "flaky",
		Instances: 1,
		Status:    catalog.StatusRunning,
		KillSig:   15,
		Childs:    make([]*catalog.Process, 1),
	}
	if err := e.Cat.Add(g); err != nil {
		t.Fatalf("add: %v", err)
	}

	waitErr := failingExitErr(t)
	g.ErrorCount = ErrorMax - 1
	g.ErrTime = time.Now().Add(-2 * ErrorPeriod)

	p := &catalog.Process{PID: 42, Instance: 0, Group: g}
	e.reap(p, waitErr)

	if g.ErrorCount != 1 {
		t.Fatalf("expected error count to reset to 1 after stale window, got %d", g.ErrorCount)
	}
	if g.Status == catalog.StatusBroken {
		t.Fatalf("group should not be BROKEN yet")
	}
}

func TestReapOrphanDoesNothing(t *testing.T) {
	e := newTestEngine()
	p := &catalog.Process{PID: 99, Instance: 0, Group: nil}
	e.reap(p, nil) // must not panic on a nil group
}
