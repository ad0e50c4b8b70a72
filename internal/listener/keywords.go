package listener

import (
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

// Class is the category a recognised keyword belongs to.
type Class int

const (
	ClassNone Class = iota
	ClassStop
	ClassExit
	ClassWake
	ClassConfirm
	ClassCancel
)

func (c Class) String() string {
	switch c {
	case ClassStop:
		return "stop"
	case ClassExit:
		return "exit"
	case ClassWake:
		return "wake"
	case ClassConfirm:
		return "confirm"
	case ClassCancel:
		return "cancel"
	default:
		return "none"
	}
}

// classOrder is the precedence used when a phrase belongs to several lists
// ("หยุด" is both a stop and a cancel word).
var classOrder = []Class{ClassStop, ClassExit, ClassWake, ClassConfirm, ClassCancel}

// KeywordSet holds the phrase lists recognised by the background scan and
// the confirmation step.
type KeywordSet struct {
	Wake    []string `yaml:"wake"`
	Stop    []string `yaml:"stop"`
	Exit    []string `yaml:"exit"`
	Confirm []string `yaml:"confirm"`
	Cancel  []string `yaml:"cancel"`
}

// DefaultKeywords returns the built-in Thai keyword lists.
func DefaultKeywords() KeywordSet {
	return KeywordSet{
		Wake:    []string{"ผิงผิง", "สวัสดีผิงผิง", "ทดสอบ"},
		Stop:    []string{"หยุดพูด", "หยุด", "เงียบ", "พอแล้ว"},
		Exit:    []string{"ออกจากโปรแกรม", "เลิกทำงาน"},
		Confirm: []string{"ใช่", "ใช่แล้ว", "ใช่จ้า", "ใช่ครับ", "ใช่ค่ะ", "ใช่เลย", "ตกลง", "โอเค", "ได้เลย"},
		Cancel:  []string{"ไม่ใช่", "ไม่ใช่จ้า", "ไม่ใช่นะ", "ไม่ใช่ครับ", "ไม่ใช่ค่ะ", "ไม่", "ยกเลิก", "หยุด"},
	}
}

// Normalize trims and lower-cases a transcript for comparison.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalized returns a copy with every phrase normalised and empties dropped.
func (k KeywordSet) normalized() KeywordSet {
	clean := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			if s = Normalize(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return KeywordSet{
		Wake:    clean(k.Wake),
		Stop:    clean(k.Stop),
		Exit:    clean(k.Exit),
		Confirm: clean(k.Confirm),
		Cancel:  clean(k.Cancel),
	}
}

// List returns the phrases of class c.
func (k KeywordSet) List(c Class) []string {
	switch c {
	case ClassWake:
		return k.Wake
	case ClassStop:
		return k.Stop
	case ClassExit:
		return k.Exit
	case ClassConfirm:
		return k.Confirm
	case ClassCancel:
		return k.Cancel
	default:
		return nil
	}
}

// Matches reports whether text matches a phrase of class c. With maxDistance
// zero the match is exact; otherwise phrases within maxDistance Levenshtein
// edits (counted in runes) also match.
func (k KeywordSet) Matches(c Class, text string, maxDistance int) bool {
	text = Normalize(text)
	if text == "" {
		return false
	}
	list := k.List(c)
	if slices.Contains(list, text) {
		return true
	}
	if maxDistance <= 0 {
		return false
	}
	for _, kw := range list {
		if matchr.Levenshtein(text, kw) <= maxDistance {
			return true
		}
	}
	return false
}

// Classify returns the class of text, or ClassNone. Exact matches win over
// fuzzy ones, then classes are tried in precedence order.
func (k KeywordSet) Classify(text string, maxDistance int) Class {
	for _, c := range classOrder {
		if k.Matches(c, text, 0) {
			return c
		}
	}
	if maxDistance <= 0 {
		return ClassNone
	}
	for _, c := range classOrder {
		if k.Matches(c, text, maxDistance) {
			return c
		}
	}
	return ClassNone
}
