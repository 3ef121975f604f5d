package roster

import "testing"

func TestDefaultRoster(t *testing.T) {
	r := Default()
	if got := len(r.All()); got != 7 {
		t.Fatalf("roster size = %d, want 7", got)
	}
	a, ok := r.Get("user-4")
	if !ok {
		t.Fatal("user-4 missing")
	}
	if a.Name == "" || len(a.Skills) == 0 {
		t.Errorf("agent = %+v", a)
	}
	if _, ok := r.Get("user-99"); ok {
		t.Error("unknown agent found")
	}
}

func TestAvailableExcludesAway(t *testing.T) {
	r := Default()
	avail := r.Available()
	for _, a := range avail {
		if a.Status != StatusAvailable {
			t.Errorf("agent %s status = %s", a.ID, a.Status)
		}
	}
	if len(avail) != 6 {
		t.Errorf("available = %d, want 6", len(avail))
	}
}

func TestSetStatus(t *testing.T) {
	r := Default()
	r.SetStatus("user-1", StatusOffline)
	a, _ := r.Get("user-1")
	if a.Status != StatusOffline {
		t.Errorf("status = %s", a.Status)
	}
	before := len(r.All())
	r.SetStatus("nobody", StatusAvailable)
	if len(r.All()) != before {
		t.Error("SetStatus on unknown id created an agent")
	}
}
