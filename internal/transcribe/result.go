package transcribe

import (
	"strings"
	"time"
	"unicode"
)

// speakerGap is the pause between segments taken as a change of speaker.
const speakerGap = 1500 * time.Millisecond

// segmentsFromNative converts engine output. Words and confidences are only
// filled when the options ask for them.
func segmentsFromNative(native []NativeSegment, opts Options) []Segment {
	out := make([]Segment, 0, len(native))
	for _, ns := range native {
		seg := Segment{
			Start:   ns.Start,
			End:     ns.End,
			Text:    strings.TrimSpace(ns.Text),
			Speaker: -1,
		}
		if seg.Text == "" {
			continue
		}
		if opts.Confidence {
			seg.Confidence = meanP(ns.Tokens)
		}
		if opts.Timestamps {
			seg.Words = wordsFromTokens(ns.Tokens, opts.Confidence)
		}
		out = append(out, seg)
	}
	return out
}

// wordsFromTokens joins sub-word tokens. A token starting with a space
// begins a new word.
func wordsFromTokens(tokens []NativeToken, withConfidence bool) []Word {
	var (
		words []Word
		cur   *Word
		ps    []float32
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Text = strings.TrimSpace(cur.Text)
		if withConfidence && len(ps) > 0 {
			var sum float32
			for _, p := range ps {
				sum += p
			}
			cur.Confidence = sum / float32(len(ps))
		}
		if cur.Text != "" {
			words = append(words, *cur)
		}
		cur, ps = nil, nil
	}
	for _, tok := range tokens {
		if cur == nil || strings.HasPrefix(tok.Text, " ") {
			flush()
			cur = &Word{Start: tok.Start}
		}
		cur.Text += tok.Text
		cur.End = tok.End
		ps = append(ps, tok.P)
	}
	flush()
	return words
}

func meanP(tokens []NativeToken) float32 {
	if len(tokens) == 0 {
		return 0
	}
	var sum float32
	for _, t := range tokens {
		sum += t.P
	}
	return sum / float32(len(tokens))
}

// finish fills the derived result fields from its segments.
func finish(res *Result, opts Options) {
	texts := make([]string, 0, len(res.Segments))
	var conf float32
	for i := range res.Segments {
		if !opts.Punctuation {
			res.Segments[i].Text = stripPunctuation(res.Segments[i].Text)
		}
		texts = append(texts, res.Segments[i].Text)
		conf += res.Segments[i].Confidence
	}
	res.Text = strings.TrimSpace(strings.Join(texts, " "))
	if opts.Confidence && len(res.Segments) > 0 && res.Confidence == 0 {
		res.Confidence = conf / float32(len(res.Segments))
	}
	res.Speakers = 0
	if opts.Diarize {
		res.Speakers = diarize(res.Segments, opts.MaxSpeakers)
	} else if len(res.Segments) > 0 {
		res.Speakers = 1
	}
}

// diarize labels segments by alternating speakers at long pauses and
// returns how many distinct speakers were assigned.
func diarize(segs []Segment, maxSpeakers int) int {
	if len(segs) == 0 {
		return 0
	}
	if maxSpeakers < 1 {
		maxSpeakers = 1
	}
	speaker := 0
	seen := map[int]bool{}
	for i := range segs {
		if i > 0 && segs[i].Start-segs[i-1].End >= speakerGap {
			speaker = (speaker + 1) % maxSpeakers
		}
		segs[i].Speaker = speaker
		seen[speaker] = true
	}
	return len(seen)
}

func stripPunctuation(s string) string {
	return strings.Join(strings.Fields(strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return r
	}, s)), " ")
}
