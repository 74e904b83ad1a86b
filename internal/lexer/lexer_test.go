package lexer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlassian/gobrubeck"
)

type parsed struct {
	Key        string
	Value      float64
	Kind       gobrubeck.Kind
	SampleFreq float64
	Modifiers  gobrubeck.Modifier
}

func parseLine(input string) (parsed, error) {
	var l Lexer
	var m Message
	err := l.Run([]byte(input), &m)
	return parsed{
		Key:        string(m.Key),
		Value:      m.Value,
		Kind:       m.Kind,
		SampleFreq: m.SampleFreq,
		Modifiers:  m.Modifiers,
	}, err
}

func TestMetricsLexer(t *testing.T) {
	t.Parallel()
	tests := map[string]parsed{
		"gaugor:333|g":                                        {Key: "gaugor", Value: 333, Kind: gobrubeck.GAUGE, SampleFreq: 1},
		"gauge.increment:+1|g":                                {Key: "gauge.increment", Value: 1, Kind: gobrubeck.GAUGE, SampleFreq: 1, Modifiers: gobrubeck.Relative},
		"gauge.decrement:-5|g":                                {Key: "gauge.decrement", Value: -5, Kind: gobrubeck.GAUGE, SampleFreq: 1, Modifiers: gobrubeck.Relative},
		"github.auth.fingerprint.sha1:1|c":                    {Key: "github.auth.fingerprint.sha1", Value: 1, Kind: gobrubeck.METER, SampleFreq: 1},
		"github.auth.fingerprint.sha1:1|c|@0.1":               {Key: "github.auth.fingerprint.sha1", Value: 1, Kind: gobrubeck.METER, SampleFreq: 10},
		"lol:1|ms":                                            {Key: "lol", Value: 1, Kind: gobrubeck.TIMER, SampleFreq: 1},
		"this.is.sparta:199812|C":                             {Key: "this.is.sparta", Value: 199812, Kind: gobrubeck.COUNTER, SampleFreq: 1},
		"this.is.sparta:0012|h":                               {Key: "this.is.sparta", Value: 12, Kind: gobrubeck.HISTOGRAM, SampleFreq: 1},
		"this.is.sparta:23.23|g":                              {Key: "this.is.sparta", Value: 23.23, Kind: gobrubeck.GAUGE, SampleFreq: 1},
		"this.is.sparta:1.5e3|g":                              {Key: "this.is.sparta", Value: 1500, Kind: gobrubeck.GAUGE, SampleFreq: 1},
		"this.are.some.floats:1234567.89|g|@0.5":              {Key: "this.are.some.floats", Value: 1234567.89, Kind: gobrubeck.GAUGE, SampleFreq: 2},
		"this.are.some.floats:1234567.89|g|@000.2500":         {Key: "this.are.some.floats", Value: 1234567.89, Kind: gobrubeck.GAUGE, SampleFreq: 4},
		"this.are.some.floats:1234567.89|g|@1":                {Key: "this.are.some.floats", Value: 1234567.89, Kind: gobrubeck.GAUGE, SampleFreq: 1},
		"this.are.some.floats:1234567.89|g|@1.":               {Key: "this.are.some.floats", Value: 1234567.89, Kind: gobrubeck.GAUGE, SampleFreq: 1},
		"this.are.some.floats:|g":                             {Key: "this.are.some.floats", Value: 0, Kind: gobrubeck.GAUGE, SampleFreq: 1},
		"smp gge:1|g":                                         {Key: "smp_gge", Value: 1, Kind: gobrubeck.GAUGE, SampleFreq: 1},
		"smp\tgge:1|g":                                        {Key: "smp_gge", Value: 1, Kind: gobrubeck.GAUGE, SampleFreq: 1},
		"smp/gge:1|g":                                         {Key: "smp-gge", Value: 1, Kind: gobrubeck.GAUGE, SampleFreq: 1},
		"da-sh_under.Score09:1|g":                             {Key: "da-sh_under.Score09", Value: 1, Kind: gobrubeck.GAUGE, SampleFreq: 1},
		strings.Repeat("k", gobrubeck.DefaultMaxKeyLength) + ":1|g": {Key: strings.Repeat("k", gobrubeck.DefaultMaxKeyLength), Value: 1, Kind: gobrubeck.GAUGE, SampleFreq: 1},
	}

	for input, expected := range tests {
		input := input
		expected := expected
		t.Run(input, func(t *testing.T) {
			t.Parallel()
			result, err := parseLine(input)
			require.NoError(t, err)
			assert.Equal(t, expected, result)
		})
	}
}

func TestInvalidMetricsLexer(t *testing.T) {
	t.Parallel()
	failing := map[string]ErrorCode{
		":1|g":                                     ErrEmptyKey,
		"bad,key:1|g":                              ErrInvalidKey,
		"bad$key:1|g":                              ErrInvalidKey,
		"trailing.dot.:1|g":                        ErrInvalidKey,
		strings.Repeat("k", 257) + ":1|g":          ErrKeyTooLong,
		"nocolon|g":                                ErrMissingKeySep,
		"nocolon":                                  ErrMissingKeySep,
		"this.are.some.floats:12.89":               ErrMissingValueSep,
		"this.are.some.floats:12.89.23|g":          ErrInvalidValue,
		"this.are.some.floats:12.89g|g":            ErrInvalidValue,
		"this.are.some.floats:12.89 |g":            ErrInvalidValue,
		"NaN.should.be:NaN|g":                      ErrInvalidValue,
		"inf.should.be:+Inf|g":                     ErrInvalidValue,
		"bad:1|zz":                                 ErrInvalidKind,
		"this.are.some.floats:12.89|a":             ErrInvalidKind,
		"this.are.some.floats:12.89|msdos":         ErrInvalidKind,
		"this.are.some.floats:12.89|":              ErrInvalidKind,
		"this.are.some.floats:12.89|m":             ErrInvalidKind,
		"this.are some.floats:1.0|g|1.0":           ErrTrailingData,
		"this.are some.floats:1.0|g|0.1":           ErrTrailingData,
		"this.are some.floats:1.0|g|@0.1|#tag":     ErrTrailingData,
		"this.are some.floats:1.0|g|@0.1.1":        ErrInvalidSampleRate,
		"this.are some.floats:1.0|g|@0.1@":         ErrInvalidSampleRate,
		"this.are some.floats:1.0|g|@0.1125.2":     ErrInvalidSampleRate,
		"this.are some.floats:1.0|g|@1.23":         ErrInvalidSampleRate,
		"this.are some.floats:1.0|g|@3.0":          ErrInvalidSampleRate,
		"this.are some.floats:1.0|g|@-3.0":         ErrInvalidSampleRate,
		"this.are some.floats:1.0|g|@-1.0":         ErrInvalidSampleRate,
		"this.are some.floats:1.0|g|@-0.23":        ErrInvalidSampleRate,
		"this.are some.floats:1.0|g|@0.0":          ErrInvalidSampleRate,
		"this.are some.floats:1.0|g|@0":            ErrInvalidSampleRate,
		"this.are some.floats:1.0|g|@":             ErrInvalidSampleRate,
		"this.are some.floats:1.0|g|@NaN":          ErrInvalidSampleRate,
	}
	for input, expectedErr := range failing {
		input := input
		expectedErr := expectedErr
		t.Run(input, func(t *testing.T) {
			t.Parallel()
			_, err := parseLine(input)
			require.Error(t, err)
			assert.Equal(t, expectedErr, err)
			assert.Less(t, int(expectedErr), 0)
		})
	}
}

func TestSanitizeInPlace(t *testing.T) {
	t.Parallel()
	input := []byte("a b/c:1|g")
	var l Lexer
	var m Message
	require.NoError(t, l.Run(input, &m))
	assert.Equal(t, "a_b-c", string(m.Key))
	assert.Equal(t, "a_b-c:1|g", string(input))
}

func TestLexerReuse(t *testing.T) {
	t.Parallel()
	var l Lexer
	var m Message
	require.NoError(t, l.Run([]byte("a:-1|g|@0.5"), &m))
	assert.Equal(t, gobrubeck.Relative, m.Modifiers)
	assert.Equal(t, 2.0, m.SampleFreq)

	require.NoError(t, l.Run([]byte("b:1|C"), &m))
	assert.Equal(t, "b", string(m.Key))
	assert.Zero(t, m.Modifiers)
	assert.Equal(t, 1.0, m.SampleFreq)
	assert.Equal(t, gobrubeck.COUNTER, m.Kind)
}

func TestCustomMaxKey(t *testing.T) {
	t.Parallel()
	l := Lexer{MaxKey: 3}
	var m Message
	assert.NoError(t, l.Run([]byte("abc:1|g"), &m))
	assert.Equal(t, ErrKeyTooLong, l.Run([]byte("abcd:1|g"), &m))
}

func TestErrorCodes(t *testing.T) {
	t.Parallel()
	codes := []ErrorCode{
		ErrEmptyKey, ErrInvalidKey, ErrKeyTooLong, ErrMissingKeySep, ErrMissingValueSep,
		ErrInvalidValue, ErrInvalidKind, ErrInvalidSampleRate, ErrTrailingData,
	}
	seen := map[string]bool{}
	for i, c := range codes {
		assert.EqualValues(t, -(i + 1), c)
		assert.False(t, seen[c.Error()], "duplicate message %q", c.Error())
		seen[c.Error()] = true
	}
	assert.Equal(t, "unknown error -100", ErrorCode(-100).Error())
}

func FuzzLexer(f *testing.F) {
	for _, seed := range []string{
		"gaugor:333|g",
		"gauge.increment:+1|g",
		"a.b:1|c|@0.1",
		"t:12|ms",
		"bad:1|zz",
		":|",
	} {
		f.Add([]byte(seed))
	}
	f.Fuzz(func(t *testing.T, input []byte) {
		var l Lexer
		var m Message
		err := l.Run(input, &m)
		if err != nil {
			code, ok := err.(ErrorCode)
			require.True(t, ok)
			require.Less(t, int(code), 0)
			return
		}
		require.NotEmpty(t, m.Key)
		require.LessOrEqual(t, len(m.Key), gobrubeck.DefaultMaxKeyLength)
		require.GreaterOrEqual(t, m.SampleFreq, 1.0)
	})
}

func BenchmarkLexer(b *testing.B) {
	line := []byte("github.auth.fingerprint.sha1:1|c|@0.1")
	var l Lexer
	var m Message
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = l.Run(line, &m)
	}
}
