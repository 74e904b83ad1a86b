package null

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/atlassian/gobrubeck"
)

// EncoderName is the name of this encoder.
const EncoderName = "null"

// client represents a discarding encoder.
type client struct{}

// NewClientFromViper constructs a discarding encoder.
func NewClientFromViper(v *viper.Viper, logger logrus.FieldLogger) (gobrubeck.Encoder, error) {
	return NewClient()
}

// NewClient constructs a client object.
func NewClient() (gobrubeck.Encoder, error) {
	return client{}, nil
}

// Name returns the name of the encoder.
func (client) Name() string {
	return EncoderName
}

func (client) Address() string {
	return ""
}

func (client) Connect(ctx context.Context) error {
	return nil
}

func (client) Connected() bool {
	return true
}

// Sample discards the value.
func (client) Sample(kind gobrubeck.Kind, key string, value float64, ts time.Time) {}

func (client) Flush() error {
	return nil
}

func (client) Sent() uint64 {
	return 0
}

func (client) Close() error {
	return nil
}
