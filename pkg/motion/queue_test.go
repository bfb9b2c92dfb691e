package motion

import "testing"

func TestQueueExecutesInOrder(t *testing.T) {
	solver := NewSimSolver()
	var executed []float64
	q := NewQueue(0, solver, func(mv Move) {
		executed = append(executed, mv.Target)
	})

	q.Submit(10, 100)
	q.Submit(20, 100)
	q.Submit(30, 100)
	if q.Pending() != 3 {
		t.Fatalf("pending = %d, want 3", q.Pending())
	}

	if err := q.Drain(); err != nil {
		t.Fatal(err)
	}
	want := []float64{10, 20, 30}
	if len(executed) != len(want) {
		t.Fatalf("executed %d moves, want %d", len(executed), len(want))
	}
	for i, v := range want {
		if executed[i] != v {
			t.Errorf("move %d = %.0f, want %.0f", i, executed[i], v)
		}
	}
	if got := solver.CurrentPosition(0); got != 30 {
		t.Errorf("solver position = %.0f, want 30", got)
	}
}

func TestQueueFollowersSeeExecutedMoves(t *testing.T) {
	q := NewQueue(0, NewSimSolver(), nil)

	var seen []float64
	q.AddFollower("f", func(mv Move) {
		seen = append(seen, mv.Target)
	})

	q.Submit(5, 100)
	q.Submit(7, 100)
	if err := q.Drain(); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 || seen[0] != 5 || seen[1] != 7 {
		t.Errorf("follower saw %v", seen)
	}

	q.RemoveFollower("f")
	q.Submit(9, 100)
	if err := q.Drain(); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 {
		t.Error("removed follower still invoked")
	}
}

func TestOnDrainImmediateWhenIdle(t *testing.T) {
	q := NewQueue(0, NewSimSolver(), nil)
	ran := false
	q.OnDrain(func() { ran = true })
	if !ran {
		t.Error("idle queue must run drain callbacks immediately")
	}
}

func TestOnDrainDeferredUntilBoundary(t *testing.T) {
	q := NewQueue(0, NewSimSolver(), nil)
	q.Submit(10, 100)

	ran := false
	q.OnDrain(func() { ran = true })
	if ran {
		t.Fatal("drain callback ran with moves pending")
	}

	// The callback runs only once the last move completes.
	if _, err := q.Advance(); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Error("drain callback did not run at the boundary")
	}
}

func TestOnDrainNotSplitMidQueue(t *testing.T) {
	q := NewQueue(0, NewSimSolver(), nil)
	q.Submit(10, 100)
	q.Submit(20, 100)

	ran := false
	q.OnDrain(func() { ran = true })

	if _, err := q.Advance(); err != nil {
		t.Fatal(err)
	}
	if ran {
		t.Fatal("drain callback ran between queued moves")
	}
	if _, err := q.Advance(); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Error("drain callback did not run after the last move")
	}
}

func TestFlushDropsMovesAndCallbacks(t *testing.T) {
	q := NewQueue(0, NewSimSolver(), nil)
	q.Submit(10, 100)
	q.Submit(20, 100)

	ran := false
	q.OnDrain(func() { ran = true })

	if dropped := q.Flush(); dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	if !q.Idle() {
		t.Error("queue not idle after flush")
	}
	if err := q.Drain(); err != nil {
		t.Fatal(err)
	}
	if ran {
		t.Error("flushed drain callback still ran")
	}
}

func TestAxisPositionHoming(t *testing.T) {
	ap := NewAxisPosition(0, 200)

	if ap.IsHomed(0) || ap.IsHomed(1) {
		t.Fatal("carriages must start unhomed")
	}
	ap.ResetToEndstop(1)
	if !ap.IsHomed(1) {
		t.Error("carriage 1 not homed")
	}
	if got := ap.Get(1); got != 200 {
		t.Errorf("homed position = %.0f, want 200", got)
	}

	ap.Set(1, 150)
	if got := ap.Separation(); got != 150 {
		t.Errorf("separation = %.0f, want 150", got)
	}

	ap.SetUnhomed(1)
	if ap.IsHomed(1) {
		t.Error("carriage 1 still homed")
	}
}
