package sid

import "testing"

func TestRangeIDs(t *testing.T) {
	tests := []struct {
		name string
		r    Range
		want []uint64
	}{
		{"empty", Range{Start: 10, Count: 0}, nil},
		{"single", Range{Start: 5, Count: 1}, []uint64{5}},
		{"contiguous span", Range{Start: 100, Count: 4}, []uint64{100, 101, 102, 103}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.r.IDs()
			if len(got) != len(tt.want) {
				t.Fatalf("IDs() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("IDs()[%d] = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRangeIDsAscending(t *testing.T) {
	r := Range{Start: 1000, Count: 50}
	ids := r.IDs()
	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[i-1]+1 {
			t.Fatalf("ids not contiguous/ascending at index %d: %d -> %d", i, ids[i-1], ids[i])
		}
	}
}
