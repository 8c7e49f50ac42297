package catalog

import "testing"

func TestAddRejectsDuplicateName(t *testing.T) {
	c := New()
	if err := c.Add(&Group{Name: "s", Instances: 1}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := c.Add(&Group{Name: "s", Instances: 1}); err == nil {
		t.Fatalf("expected duplicate name to be rejected")
	}
}

func TestNamesPreservesInsertionOrder(t *testing.T) {
	c := New()
	for _, n := range []string{"c", "a", "b"} {
		if err := c.Add(&Group{Name: n, Instances: 1}); err != nil {
			t.Fatalf("add %s: %v", n, err)
		}
	}
	got := c.Names()
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", got, want)
		}
	}
}

func TestRemoveDetachesLiveChildren(t *testing.T) {
	c := New()
	g := &Group{Name: "s", Instances: 1, Childs: make([]*Process, 1)}
	p := &Process{PID: 123, Instance: 0, Group: g}
	g.Childs[0] = p
	if err := c.Add(g); err != nil {
		t.Fatalf("add: %v", err)
	}

	removed, ok := c.Remove("s")
	if !ok || removed != g {
		t.Fatalf("Remove returned (%v, %v)", removed, ok)
	}
	if p.Group != nil {
		t.Errorf("expected orphaned process's Group to be nil, got %v", p.Group)
	}
	if _, ok := c.Get("s"); ok {
		t.Errorf("expected group to be gone from catalog")
	}
}

func TestResizeShrinkDetachesExcessChildren(t *testing.T) {
	g := &Group{Name: "s", Instances: 3, Childs: make([]*Process, 3)}
	for i := range g.Childs {
		g.Childs[i] = &Process{PID: 100 + i, Instance: i, Group: g}
	}
	excess := append([]*Process(nil), g.Childs[1:]...)

	g.Resize(1)

	if g.Instances != 1 || len(g.Childs) != 1 {
		t.Fatalf("expected 1 slot after shrink, got instances=%d len=%d", g.Instances, len(g.Childs))
	}
	if g.Childs[0] == nil || g.Childs[0].Group != g {
		t.Errorf("expected surviving slot to remain attached")
	}
	for _, p := range excess {
		if p.Group != nil {
			t.Errorf("expected excess child pid %d to be detached", p.PID)
		}
	}
}

func TestResizeGrowAppendsNilSlots(t *testing.T) {
	g := &Group{Name: "s", Instances: 1, Childs: make([]*Process, 1)}
	g.Resize(3)
	if g.Instances != 3 || len(g.Childs) != 3 {
		t.Fatalf("expected 3 slots after grow, got instances=%d len=%d", g.Instances, len(g.Childs))
	}
	for i, p := range g.Childs {
		if i > 0 && p != nil {
			t.Errorf("expected new slot %d to be nil", i)
		}
	}
}
