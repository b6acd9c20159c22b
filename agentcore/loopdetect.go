package agentcore

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
)

// Detector defaults.
const (
	DefaultLoopWindow    = 20
	DefaultLoopThreshold = 4
)

// LoopDetector watches a sliding window of observation signatures and trips
// when any single signature repeats past the threshold. It trips at most
// once per user turn; Reset arms it again.
//
// Observe is O(1): the window is a ring buffer and per-signature counts are
// kept incrementally.
type LoopDetector struct {
	window    int
	threshold int

	ring    []string
	next    int
	size    int
	counts  map[string]int
	tripped bool
}

// NewLoopDetector creates a detector. Non-positive window or threshold fall
// back to the defaults.
func NewLoopDetector(window, threshold int) *LoopDetector {
	if window <= 0 {
		window = DefaultLoopWindow
	}
	if threshold <= 0 {
		threshold = DefaultLoopThreshold
	}
	return &LoopDetector{
		window:    window,
		threshold: threshold,
		ring:      make([]string, window),
		counts:    make(map[string]int),
	}
}

// Window returns the sliding window size.
func (d *LoopDetector) Window() int { return d.window }

// Threshold returns the repetition threshold.
func (d *LoopDetector) Threshold() int { return d.threshold }

// Reset clears the window and re-arms the detector. Called at the start of
// each user turn.
func (d *LoopDetector) Reset() {
	for i := range d.ring {
		d.ring[i] = ""
	}
	d.next = 0
	d.size = 0
	d.tripped = false
	d.counts = make(map[string]int)
}

// Observe records one signature. It returns a non-nil LoopDetectedError the
// first time a signature count reaches the threshold; after that the
// detector stays quiet until Reset.
func (d *LoopDetector) Observe(sig string) *LoopDetectedError {
	if d.size == d.window {
		evicted := d.ring[d.next]
		if d.counts[evicted] <= 1 {
			delete(d.counts, evicted)
		} else {
			d.counts[evicted]--
		}
	} else {
		d.size++
	}
	d.ring[d.next] = sig
	d.next = (d.next + 1) % d.window
	d.counts[sig]++

	if !d.tripped && d.counts[sig] >= d.threshold {
		d.tripped = true
		return &LoopDetectedError{Signature: sig, Count: d.counts[sig], Window: d.window}
	}
	return nil
}

// ToolCallSignature produces a deterministic signature for a tool call from
// its name and canonicalized arguments. Key order and insignificant
// whitespace in the raw JSON do not change the signature.
func ToolCallSignature(name string, arguments json.RawMessage) string {
	h := sha256.Sum256([]byte(canonicalizeJSON(arguments)))
	return fmt.Sprintf("tool:%s:%x", name, h[:8])
}

// ResponseSignature produces a signature for assistant text, so a model
// repeating the same answer verbatim also counts toward a loop.
func ResponseSignature(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("text:%x", h[:8])
}

// canonicalizeJSON re-encodes raw JSON so object keys come out sorted.
// Invalid JSON canonicalizes to itself.
func canonicalizeJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}
	// encoding/json marshals map keys in sorted order.
	out, err := json.Marshal(decoded)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
