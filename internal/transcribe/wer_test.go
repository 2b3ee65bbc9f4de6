package transcribe

import (
	"math"
	"testing"
)

func TestComputeWER(t *testing.T) {
	tests := []struct {
		name      string
		ref, hyp  string
		wantWER   float64
		want      edits
		wantWords int
	}{
		{"identical", "the cat sat on the mat", "the cat sat on the mat", 0, edits{hit: 6}, 6},
		{"substitution", "the cat sat on the mat", "the cat sit on the mat", 1.0 / 6, edits{sub: 1, hit: 5}, 6},
		{"insertion", "the cat sat", "the big cat sat", 1.0 / 3, edits{ins: 1, hit: 3}, 3},
		{"deletion", "the cat sat on the mat", "the cat on the mat", 1.0 / 6, edits{del: 1, hit: 5}, 6},
		{"case and punctuation", "Hello, World!", "hello world", 0, edits{hit: 2}, 2},
		{"extra whitespace", "  the   cat  sat  ", "the cat sat", 0, edits{hit: 3}, 3},
		{"empty reference", "", "some words", 0, edits{}, 0},
		{"empty hypothesis", "some words", "", 1, edits{del: 2}, 2},
		{"all wrong", "the cat sat", "a dog ran", 1, edits{sub: 3}, 3},
		{
			// the->a and fox->cat are substituted, over is dropped.
			name:      "mixed",
			ref:       "the quick brown fox jumps over the lazy dog",
			hyp:       "a quick brown cat jumps the lazy dog",
			wantWER:   3.0 / 9,
			want:      edits{sub: 2, del: 1, hit: 6},
			wantWords: 9,
		},
		{
			name:      "jfk",
			ref:       "ask not what your country can do for you",
			hyp:       "ask what your country can do for you",
			wantWER:   1.0 / 9,
			want:      edits{del: 1, hit: 8},
			wantWords: 9,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeWER(tt.ref, tt.hyp)
			if math.Abs(got.WER-tt.wantWER) > 1e-9 {
				t.Errorf("WER = %f, want %f", got.WER, tt.wantWER)
			}
			e := edits{sub: got.Substitutions, ins: got.Insertions, del: got.Deletions, hit: got.Hits}
			if e != tt.want || got.RefWords != tt.wantWords {
				t.Errorf("got %+v over %d words, want %+v over %d", e, got.RefWords, tt.want, tt.wantWords)
			}
		})
	}
}

func TestWERAccuracy(t *testing.T) {
	if a := ComputeWER("one two", "one two three four five").Accuracy(); a != 0 {
		t.Errorf("Accuracy with WER > 1 = %v, want 0", a)
	}
	if a := ComputeWER("one two three four", "one two three").Accuracy(); a != 0.75 {
		t.Errorf("Accuracy = %v, want 0.75", a)
	}
}

func TestScoreResult(t *testing.T) {
	ref := "hello there general kenobi"
	if w := ScoreResult(ref, &Result{Text: "Hello there. General Kenobi."}); w.WER != 0 {
		t.Errorf("ScoreResult() = %v", w)
	}
	if w := ScoreResult(ref, nil); w.Deletions != 4 || w.WER != 1 {
		t.Errorf("ScoreResult(nil) = %v", w)
	}
}
