package capacity

import (
	"testing"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
)

func TestStateAndAvailable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		capacity  int
		approved  int
		pending   int
		state     model.SlotState
		available int
	}{
		{"empty", 3, 0, 0, model.SlotFree, 3},
		{"one pending", 3, 0, 1, model.SlotSemi, 2},
		{"one approved", 3, 1, 0, model.SlotSemi, 2},
		{"mixed full", 3, 1, 2, model.SlotFull, 0},
		{"pending alone fills", 1, 0, 1, model.SlotFull, 0},
		{"overbooked stays zero", 2, 2, 1, model.SlotFull, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := State(tc.capacity, tc.approved, tc.pending); got != tc.state {
				t.Fatalf("state = %s, want %s", got, tc.state)
			}
			if got := Available(tc.capacity, tc.approved, tc.pending); got != tc.available {
				t.Fatalf("available = %d, want %d", got, tc.available)
			}
			if got := HasRoom(tc.capacity, tc.approved, tc.pending); got != (tc.available > 0) {
				t.Fatalf("has room = %v, want %v", got, tc.available > 0)
			}
		})
	}
}

func TestView(t *testing.T) {
	t.Parallel()

	view := View(model.Slot{ID: "slot-1", Capacity: 2}, 1, 0, 0)
	if view.State != model.SlotSemi || view.Available != 1 || view.Approved != 1 {
		t.Fatalf("unexpected view: %+v", view)
	}
}
