package fixtures

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/atlassian/gobrubeck"
)

// MockEncoder implements a mock gobrubeck.Encoder from github.com/atlassian/gobrubeck
type MockEncoder struct {
	TB testing.TB

	FnAddress   func() string
	FnClose     func() error
	FnConnect   func(ctx context.Context) error
	FnConnected func() bool
	FnFlush     func() error
	FnName      func() string
	FnSample    func(kind gobrubeck.Kind, key string, value float64, ts time.Time)
	FnSent      func() uint64
}

var _ gobrubeck.Encoder = (*MockEncoder)(nil)

func (m *MockEncoder) Address() (p0 string) {
	if m.FnAddress != nil {
		return m.FnAddress()
	}
	assert.Fail(m.TB, "Encoder.Address must not be called")
	return
}

func (m *MockEncoder) Close() (p0 error) {
	if m.FnClose != nil {
		return m.FnClose()
	}
	assert.Fail(m.TB, "Encoder.Close must not be called")
	return
}

func (m *MockEncoder) Connect(ctx context.Context) (p0 error) {
	if m.FnConnect != nil {
		return m.FnConnect(ctx)
	}
	assert.Fail(m.TB, "Encoder.Connect must not be called")
	return
}

func (m *MockEncoder) Connected() (p0 bool) {
	if m.FnConnected != nil {
		return m.FnConnected()
	}
	assert.Fail(m.TB, "Encoder.Connected must not be called")
	return
}

func (m *MockEncoder) Flush() (p0 error) {
	if m.FnFlush != nil {
		return m.FnFlush()
	}
	assert.Fail(m.TB, "Encoder.Flush must not be called")
	return
}

func (m *MockEncoder) Name() (p0 string) {
	if m.FnName != nil {
		return m.FnName()
	}
	assert.Fail(m.TB, "Encoder.Name must not be called")
	return
}

func (m *MockEncoder) Sample(kind gobrubeck.Kind, key string, value float64, ts time.Time) {
	if m.FnSample != nil {
		m.FnSample(kind, key, value, ts)
	} else {
		assert.Fail(m.TB, "Encoder.Sample must not be called")
	}
}

func (m *MockEncoder) Sent() (p0 uint64) {
	if m.FnSent != nil {
		return m.FnSent()
	}
	assert.Fail(m.TB, "Encoder.Sent must not be called")
	return
}
