package lexer

import (
	"math"
	"strconv"

	"github.com/atlassian/gobrubeck"
)

// Message is a parsed statsd statement.
type Message struct {
	// Key aliases the lexed input, it is only valid until the input buffer is reused.
	Key        []byte
	Value      float64
	Kind       gobrubeck.Kind
	SampleFreq float64 // inverse of the sample rate, 1 when absent
	Modifiers  gobrubeck.Modifier
}

// ErrorCode is a negative code identifying why a statement failed to parse.
type ErrorCode int

const (
	ErrEmptyKey ErrorCode = -(iota + 1)
	ErrInvalidKey
	ErrKeyTooLong
	ErrMissingKeySep
	ErrMissingValueSep
	ErrInvalidValue
	ErrInvalidKind
	ErrInvalidSampleRate
	ErrTrailingData
)

func (e ErrorCode) Error() string {
	switch e {
	case ErrEmptyKey:
		return "key zero len"
	case ErrInvalidKey:
		return "invalid key"
	case ErrKeyTooLong:
		return "key too long"
	case ErrMissingKeySep:
		return "missing key separator"
	case ErrMissingValueSep:
		return "missing value separator"
	case ErrInvalidValue:
		return "invalid value"
	case ErrInvalidKind:
		return "invalid type"
	case ErrInvalidSampleRate:
		return "invalid sample rate"
	case ErrTrailingData:
		return "trailing data"
	}
	return "unknown error " + strconv.Itoa(int(e))
}

// Lexer parses statements of the form key:value|type[|@rate]. A Lexer is reusable but
// not safe for concurrent use; each ingestion worker owns one.
type Lexer struct {
	// any field added must be considered in Lexer.reset
	input  []byte
	len    uint32
	start  uint32
	pos    uint32
	m      *Message
	err    ErrorCode
	MaxKey int // longest accepted key, DefaultMaxKeyLength when zero
}

// assumes we don't have \x00 bytes in input.
const eof byte = 0

func (l *Lexer) next() byte {
	if l.pos >= l.len {
		return eof
	}
	b := l.input[l.pos]
	l.pos++
	return b
}

func (l *Lexer) reset() {
	l.start = 0
	l.pos = 0
	l.err = 0
	*l.m = Message{SampleFreq: 1}
}

// Run parses input into m. Key characters are sanitized in place: '/' becomes '-'
// and whitespace becomes '_'. On failure the returned error is an ErrorCode.
func (l *Lexer) Run(input []byte, m *Message) error {
	l.input = input
	l.len = uint32(len(input))
	l.m = m
	l.reset()

	for state := lexKeySep; state != nil; {
		state = state(l)
	}
	if l.err != 0 {
		return l.err
	}
	return nil
}

type stateFn func(*Lexer) stateFn

// lex until we find the colon separator between key and value.
func lexKeySep(l *Lexer) stateFn {
	for {
		switch b := l.next(); b {
		case '/':
			l.input[l.pos-1] = '-'
		case ' ', '\t':
			l.input[l.pos-1] = '_'
		case ':':
			return lexKey
		case eof, '|', '\n':
			l.err = ErrMissingKeySep
			return nil
		case '.', '-', '_':
			continue
		default:
			if ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9') {
				continue
			}
			l.err = ErrInvalidKey
			return nil
		}
	}
}

// lex the key.
func lexKey(l *Lexer) stateFn {
	key := l.input[l.start : l.pos-1]
	maxKey := l.MaxKey
	if maxKey <= 0 {
		maxKey = gobrubeck.DefaultMaxKeyLength
	}
	switch {
	case len(key) == 0:
		l.err = ErrEmptyKey
		return nil
	case len(key) > maxKey:
		l.err = ErrKeyTooLong
		return nil
	case key[len(key)-1] == '.':
		// Graphite can't store a trailing separator.
		l.err = ErrInvalidKey
		return nil
	}
	l.m.Key = key
	l.start = l.pos
	return lexValueSep
}

// lex until we find the pipe separator between value and type.
func lexValueSep(l *Lexer) stateFn {
	for {
		// cheap check here. ParseFloat will do it.
		switch b := l.next(); b {
		case '|':
			return lexValue
		case eof:
			l.err = ErrMissingValueSep
			return nil
		}
	}
}

// lex the value.
func lexValue(l *Lexer) stateFn {
	raw := l.input[l.start : l.pos-1]
	l.start = l.pos
	if len(raw) == 0 {
		l.m.Value = 0
		return lexType
	}
	if raw[0] == '+' || raw[0] == '-' {
		l.m.Modifiers |= gobrubeck.Relative
	}
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		l.err = ErrInvalidValue
		return nil
	}
	l.m.Value = v
	return lexType
}

// lex the type.
func lexType(l *Lexer) stateFn {
	switch b := l.next(); b {
	case 'g':
		l.m.Kind = gobrubeck.GAUGE
	case 'c':
		l.m.Kind = gobrubeck.METER
	case 'C':
		l.m.Kind = gobrubeck.COUNTER
	case 'h':
		l.m.Kind = gobrubeck.HISTOGRAM
	case 'm':
		if b := l.next(); b != 's' {
			l.err = ErrInvalidKind
			return nil
		}
		l.m.Kind = gobrubeck.TIMER
	default:
		l.err = ErrInvalidKind
		return nil
	}
	l.start = l.pos
	return lexMetricFields
}

// lex the possible separator between type and sampling rate.
func lexMetricFields(l *Lexer) stateFn {
	switch b := l.next(); b {
	case '|':
		l.start = l.pos
		return lexSampleRate
	case eof:
	default:
		l.err = ErrInvalidKind
	}
	return nil
}

// lexSampleRate expects '@' followed by a rate in (0, 1] and nothing after it.
func lexSampleRate(l *Lexer) stateFn {
	if b := l.next(); b != '@' {
		l.err = ErrTrailingData
		return nil
	}
	l.start = l.pos
	for {
		switch b := l.next(); b {
		case '|':
			l.err = ErrTrailingData
			return nil
		case eof:
			return lexSampleRateValue
		}
	}
}

func lexSampleRateValue(l *Lexer) stateFn {
	v, err := strconv.ParseFloat(string(l.input[l.start:l.pos]), 64)
	// NaN fails both comparisons.
	if err != nil || !(v > 0 && v <= 1) {
		l.err = ErrInvalidSampleRate
		return nil
	}
	l.m.SampleFreq = 1 / v
	return nil
}
