// Package tips detects sounds that Brazilian speakers commonly struggle with.
package tips

import (
	"strings"

	"github.com/verte-zerg/sotaque/internal/model"
)

// Key identifies one difficult sound.
type Key string

const (
	TH  Key = "th"
	R   Key = "r"
	W   Key = "w"
	H   Key = "h"
	ED  Key = "ed"
	ING Key = "ing"
)

var messages = map[Key]string{
	TH:  "💡 O som 'TH': coloque a ponta da língua entre os dentes e sopre suavemente. Pratique com 'the', 'think', 'this'.",
	R:   "💡 O 'R' inglês: NÃO vibre a língua como no português. A língua vai para trás, sem tocar o céu da boca.",
	W:   "💡 O 'W': arredonde os lábios como se fosse dizer 'U' e depois abra para a vogal seguinte. Ex: 'water' = 'uórer'.",
	H:   "💡 O 'H' aspirado: sopre o ar como se estivesse embaçando um vidro. Ex: 'have' = 'rév' (aspirado!).",
	ED:  "💡 Terminação '-ED': pode soar como 'D' (played=plêid), 'T' (worked=uôrkT) ou 'ID' (wanted=uón-tid).",
	ING: "💡 Terminação '-ING': pronuncie 'in' com um leve 'g' nasal no final. NÃO diga 'ingue'.",
}

// Detect returns the difficult sounds present in word, in rule order.
func Detect(word string) []Key {
	w := strings.ToLower(word)
	var keys []Key
	if strings.Contains(w, "th") {
		keys = append(keys, TH)
	}
	if strings.HasPrefix(w, "r") || strings.HasPrefix(w, "wr") {
		keys = append(keys, R)
	}
	if strings.HasPrefix(w, "w") && !strings.HasPrefix(w, "wr") {
		keys = append(keys, W)
	}
	if strings.HasPrefix(w, "h") {
		keys = append(keys, H)
	}
	if strings.HasSuffix(w, "ed") {
		keys = append(keys, ED)
	}
	if strings.HasSuffix(w, "ing") {
		keys = append(keys, ING)
	}
	return keys
}

// Message returns the coaching text for key, or "" for unknown keys.
func Message(key Key) string {
	return messages[key]
}

// Tip is a key paired with its message.
type Tip struct {
	Key     Key    `json:"key"`
	Message string `json:"message"`
}

// Tracker remembers which tips were already shown in one session.
// It is not safe for concurrent use; each session owns its own Tracker.
type Tracker struct {
	seen map[Key]struct{}
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{seen: map[Key]struct{}{}}
}

// Add records keys and returns the ones not shown before, in input order.
func (t *Tracker) Add(keys []Key) []Key {
	var fresh []Key
	for _, k := range keys {
		if _, ok := t.seen[k]; ok {
			continue
		}
		t.seen[k] = struct{}{}
		fresh = append(fresh, k)
	}
	return fresh
}

// Seen reports whether key was already shown.
func (t *Tracker) Seen(key Key) bool {
	_, ok := t.seen[key]
	return ok
}

// ForResult collects new tips for the incorrect words of res.
// A nil tracker disables deduplication across calls.
func ForResult(t *Tracker, res model.ScoringResult) []Tip {
	if t == nil {
		t = NewTracker()
	}
	var out []Tip
	for _, w := range res.Words {
		if w.Correct {
			continue
		}
		for _, k := range t.Add(Detect(w.Target)) {
			out = append(out, Tip{Key: k, Message: Message(k)})
		}
	}
	return out
}
