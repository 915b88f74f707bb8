package keywords

import (
	"reflect"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "drops stopwords and short tokens",
			text: "Fix the flaky test in CI",
			want: []string{"fix", "flaky", "test"},
		},
		{
			name: "lowercases and dedupes",
			text: "Migration MIGRATION migration",
			want: []string{"migration"},
		},
		{
			name: "keeps identifiers with hyphen and underscore",
			text: "run pre-commit and go_test hooks",
			want: []string{"run", "pre-commit", "go_test", "hooks"},
		},
		{
			name: "splits on punctuation",
			text: "db.Query(ctx, sql)",
			want: []string{"query", "ctx", "sql"},
		},
		{
			name: "only stopwords yields nothing",
			text: "the and of to",
			want: []string{},
		},
		{
			name: "empty input",
			text: "",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Extract(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestOverlap(t *testing.T) {
	kws := []string{"migration", "postgres", "index"}

	tests := []struct {
		name string
		text string
		want int
	}{
		{"no match", "unrelated frontend work", 0},
		{"single match", "add a postgres pool", 1},
		{"substring match catches plurals", "run all migrations", 1},
		{"all match", "postgres index migration rollback", 3},
		{"case insensitive", "Postgres INDEX", 2},
		{"empty text", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overlap(kws, tt.text); got != tt.want {
				t.Errorf("Overlap = %d, want %d", got, tt.want)
			}
		})
	}

	if Overlap(nil, "anything") != 0 {
		t.Error("nil keywords should overlap nothing")
	}
	if !OverlapAny(kws, "an index rebuild") {
		t.Error("OverlapAny should report a hit")
	}
	if OverlapAny(kws, "nothing relevant") {
		t.Error("OverlapAny false positive")
	}
}
