package transcribe

import (
	"fmt"
	"strings"
)

// WERResult is the word error rate of a hypothesis against a reference.
type WERResult struct {
	WER           float64 // (Substitutions + Insertions + Deletions) / RefWords
	Substitutions int
	Insertions    int
	Deletions     int
	Hits          int
	RefWords      int
}

// Accuracy is 1 - WER, floored at 0.
func (w WERResult) Accuracy() float64 {
	return max(0, 1-w.WER)
}

func (w WERResult) String() string {
	return fmt.Sprintf("WER %.1f%% (%d sub, %d ins, %d del of %d words)",
		w.WER*100, w.Substitutions, w.Insertions, w.Deletions, w.RefWords)
}

// edits is one cell of the alignment table: the cheapest way to align a
// reference prefix with a hypothesis prefix.
type edits struct {
	sub, ins, del, hit int
}

func (e edits) cost() int { return e.sub + e.ins + e.del }

// ComputeWER aligns hypothesis against reference by minimum edit distance
// over words. Both are compared case-insensitively with punctuation
// removed. An empty reference scores 0.
func ComputeWER(reference, hypothesis string) WERResult {
	ref := normalizeWords(reference)
	hyp := normalizeWords(hypothesis)
	if len(ref) == 0 {
		return WERResult{}
	}

	// Two rows of the table are enough: row i only reads row i-1.
	prev := make([]edits, len(hyp)+1)
	cur := make([]edits, len(hyp)+1)
	for j := range prev {
		prev[j] = edits{ins: j}
	}

	for i := 1; i <= len(ref); i++ {
		cur[0] = edits{del: i}
		for j := 1; j <= len(hyp); j++ {
			if ref[i-1] == hyp[j-1] {
				cur[j] = prev[j-1]
				cur[j].hit++
				continue
			}
			// Ties prefer a substitution over a deletion over an insertion.
			best := prev[j-1]
			best.sub++
			if del := prev[j]; del.cost()+1 < best.cost() {
				best = del
				best.del++
			}
			if ins := cur[j-1]; ins.cost()+1 < best.cost() {
				best = ins
				best.ins++
			}
			cur[j] = best
		}
		prev, cur = cur, prev
	}

	e := prev[len(hyp)]
	return WERResult{
		WER:           float64(e.cost()) / float64(len(ref)),
		Substitutions: e.sub,
		Insertions:    e.ins,
		Deletions:     e.del,
		Hits:          e.hit,
		RefWords:      len(ref),
	}
}

// ScoreResult scores a transcription result against a reference. A nil
// result counts every reference word as deleted.
func ScoreResult(reference string, res *Result) WERResult {
	if res == nil {
		return ComputeWER(reference, "")
	}
	return ComputeWER(reference, res.Text)
}

func normalizeWords(s string) []string {
	return strings.Fields(strings.ToLower(stripPunctuation(s)))
}
