package types

import (
	"strings"
	"testing"
)

func TestDeltaHash(t *testing.T) {
	tests := []struct {
		name  string
		delta PlaybookDelta
		want  string
	}{
		{
			name: "add folds content case",
			delta: PlaybookDelta{
				Type:   DeltaAdd,
				Bullet: &NewBulletSpec{Content: "Always Run Tests"},
			},
			want: "add:always run tests",
		},
		{
			name:  "add with nil bullet hashes empty content",
			delta: PlaybookDelta{Type: DeltaAdd},
			want:  "add:",
		},
		{
			name: "replace keys on id and new content",
			delta: PlaybookDelta{
				Type:       DeltaReplace,
				BulletID:   "b-1",
				NewContent: "Use t.TempDir in tests",
			},
			want: "replace:b-1:Use t.TempDir in tests",
		},
		{
			name: "merge sorts ids",
			delta: PlaybookDelta{
				Type:      DeltaMerge,
				BulletIDs: []string{"b-9", "b-2", "b-5"},
			},
			want: "merge:b-2,b-5,b-9",
		},
		{
			name:  "helpful keys on type and id",
			delta: PlaybookDelta{Type: DeltaHelpful, BulletID: "b-3"},
			want:  "helpful:b-3",
		},
		{
			name:  "harmful keys on type and id",
			delta: PlaybookDelta{Type: DeltaHarmful, BulletID: "b-3"},
			want:  "harmful:b-3",
		},
		{
			name:  "deprecate keys on type and id",
			delta: PlaybookDelta{Type: DeltaDeprecate, BulletID: "b-3"},
			want:  "deprecate:b-3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.delta.Hash(); got != tt.want {
				t.Errorf("Hash() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeltaHashMergeOrderInsensitive(t *testing.T) {
	a := PlaybookDelta{Type: DeltaMerge, BulletIDs: []string{"b-1", "b-2"}}
	b := PlaybookDelta{Type: DeltaMerge, BulletIDs: []string{"b-2", "b-1"}}
	if a.Hash() != b.Hash() {
		t.Errorf("merge hash should ignore id order: %q != %q", a.Hash(), b.Hash())
	}
}

func TestDedupDeltas(t *testing.T) {
	adds := func(contents ...string) []PlaybookDelta {
		var out []PlaybookDelta
		for _, c := range contents {
			out = append(out, PlaybookDelta{Type: DeltaAdd, Bullet: &NewBulletSpec{Content: c}})
		}
		return out
	}

	t.Run("drops case-folded duplicates", func(t *testing.T) {
		in := adds("Use table tests", "use TABLE tests", "Prefer errors.Is")
		got := DedupDeltas(in, nil)
		if len(got) != 2 {
			t.Fatalf("DedupDeltas returned %d deltas, want 2", len(got))
		}
		if got[0].Bullet.Content != "Use table tests" {
			t.Errorf("first survivor = %q, want original casing kept", got[0].Bullet.Content)
		}
	})

	t.Run("result is a subset with set-unique hashes", func(t *testing.T) {
		in := adds("a", "b", "a", "c", "B")
		got := DedupDeltas(in, nil)

		inHashes := make(map[string]bool)
		for _, d := range in {
			inHashes[d.Hash()] = true
		}
		seen := make(map[string]bool)
		for _, d := range got {
			h := d.Hash()
			if !inHashes[h] {
				t.Errorf("output delta %q not drawn from input", h)
			}
			if seen[h] {
				t.Errorf("duplicate hash %q in output", h)
			}
			seen[h] = true
		}
	})

	t.Run("seen map carries across batches", func(t *testing.T) {
		seen := make(map[string]bool)
		first := DedupDeltas(adds("a", "b"), seen)
		second := DedupDeltas(adds("b", "c"), seen)
		if len(first) != 2 || len(second) != 1 {
			t.Errorf("batches = %d,%d deltas, want 2,1", len(first), len(second))
		}
		if len(second) == 1 && second[0].Bullet.Content != "c" {
			t.Errorf("second batch kept %q, want \"c\"", second[0].Bullet.Content)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if got := DedupDeltas(nil, nil); len(got) != 0 {
			t.Errorf("DedupDeltas(nil) = %v, want empty", got)
		}
	})
}

func TestNewIDConventions(t *testing.T) {
	now := testTime(t)

	tests := []struct {
		name   string
		id     string
		prefix string
	}{
		{"bullet", NewBulletID(now), "b-"},
		{"diary", NewDiaryID(now), "d-"},
		{"trauma", NewTraumaID(now), "t-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.HasPrefix(tt.id, tt.prefix) {
				t.Errorf("id %q missing prefix %q", tt.id, tt.prefix)
			}
			parts := strings.SplitN(tt.id, "-", 3)
			if len(parts) != 3 {
				t.Fatalf("id %q should have three dash-separated parts", tt.id)
			}
			if len(parts[2]) != 8 {
				t.Errorf("random suffix %q has length %d, want 8", parts[2], len(parts[2]))
			}
		})
	}

	if NewBulletID(now) == NewBulletID(now) {
		t.Error("two ids generated at the same instant should differ")
	}
}
