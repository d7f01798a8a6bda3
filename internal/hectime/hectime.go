// Package hectime resolves raw event time values into epoch milliseconds.
//
// Collector clients report event times in several shapes: 13-digit epoch
// milliseconds, 10-digit epoch seconds, fractional seconds ("1433188255.253"),
// or not at all. Resolution normalizes all of these to milliseconds and
// records whether the value came from the client ("reported") or had to be
// made up ("generated").
package hectime

import (
	"strconv"
	"strings"
)

// Source tags where a resolved time came from.
type Source string

const (
	// SourceReported means the value derives from the client-supplied time.
	SourceReported Source = "reported"
	// SourceGenerated means no usable client value existed.
	SourceGenerated Source = "generated"
)

// Resolved is the outcome of resolving one event's time value.
// The zero value is the "no time" resolution: epoch 0, generated, unparsed.
type Resolved struct {
	EpochMillis int64
	Source      Source
	Parsed      bool
}

// Generated returns the fallback resolution for events with no usable time.
func Generated() Resolved {
	return Resolved{Source: SourceGenerated}
}

// Resolve converts a raw time literal into a Resolved value.
//
// raw is the literal text of the event's time field: the digits of a JSON
// number (fractional point included) or the contents of a JSON string.
// An empty raw means the field was absent.
//
// prev is the previous event's resolution within the same batch, or nil for
// the first event. When the current event carries no parseable time, a
// parsed previous value is inherited (batch carry-forward).
func Resolve(raw string, prev *Resolved) Resolved {
	digits, ok := collapseDigits(strings.TrimSpace(raw))
	if !ok {
		return inherit(prev)
	}
	return guard(normalize(digits))
}

// inherit applies the carry-forward rule for absent or textual time values.
func inherit(prev *Resolved) Resolved {
	if prev != nil && prev.Parsed {
		return Resolved{EpochMillis: prev.EpochMillis, Source: SourceReported, Parsed: true}
	}
	return Generated()
}

// collapseDigits reduces a numeric literal to a plain digit string,
// removing at most one decimal point so that seconds-with-millis values
// collapse into a single integer ("1433188255.253" -> "1433188255253").
// Returns false for empty, negative, or otherwise non-numeric input.
func collapseDigits(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	var b strings.Builder
	b.Grow(len(raw))
	seenPoint := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '.' && !seenPoint && i > 0 && i < len(raw)-1:
			seenPoint = true
		default:
			return "", false
		}
	}
	return b.String(), true
}

// normalize scales a digit string to epoch milliseconds by digit count:
// 13 digits pass through, 10-12 digits are scaled up, anything else is
// echoed unscaled and reported as generated (no scale guessing).
func normalize(s string) Resolved {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Too many digits for int64; nothing sensible to echo.
		return Generated()
	}

	switch n := len(s); {
	case n == 13:
		return Resolved{EpochMillis: v, Source: SourceReported, Parsed: true}
	case n >= 10 && n < 13:
		scale := int64(1)
		for i := n; i < 13; i++ {
			scale *= 10
		}
		return Resolved{EpochMillis: v * scale, Source: SourceReported, Parsed: true}
	default:
		return Resolved{EpochMillis: v, Source: SourceGenerated, Parsed: false}
	}
}

// guard re-checks the final digit count. A value outside [10,13] digits is
// not a plausible epoch and must read as generated/unparsed regardless of
// which branch produced it. Idempotent on already-normalized values.
func guard(r Resolved) Resolved {
	n := len(strconv.FormatInt(r.EpochMillis, 10))
	if n < 10 || n > 13 {
		r.Source = SourceGenerated
		r.Parsed = false
	}
	return r
}
