package fixtures

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

// testWriter routes log lines to the test's own output, so they only show for failed
// or verbose runs.
type testWriter struct {
	tb testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.tb.Helper()
	w.tb.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// NewTestLogger returns a debug level logger writing through tb.Log. Options can
// adjust the logger before use, for example to add a hook.
func NewTestLogger(tb testing.TB, opts ...func(*logrus.Logger)) logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	for _, opt := range opts {
		opt(l)
	}
	l.SetOutput(testWriter{tb: tb})
	return l
}
