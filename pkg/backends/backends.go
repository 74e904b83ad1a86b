package backends

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/atlassian/gobrubeck"
	"github.com/atlassian/gobrubeck/pkg/backends/carbon"
	"github.com/atlassian/gobrubeck/pkg/backends/null"
	"github.com/atlassian/gobrubeck/pkg/backends/opentsdb"
	"github.com/atlassian/gobrubeck/pkg/backends/redis"
	"github.com/atlassian/gobrubeck/pkg/backends/stdout"
)

// EncoderFactory creates an encoder from its backend table.
type EncoderFactory func(v *viper.Viper, logger logrus.FieldLogger) (gobrubeck.Encoder, error)

// All known encoders.
var encoders = map[string]EncoderFactory{
	carbon.EncoderName:   carbon.NewClientFromViper,
	null.EncoderName:     null.NewClientFromViper,
	opentsdb.EncoderName: opentsdb.NewClientFromViper,
	redis.EncoderName:    redis.NewClientFromViper,
	stdout.EncoderName:   stdout.NewClientFromViper,
}

// GetEncoder creates an instance of the named encoder, or nil if
// the name is not known. The error return is only used if the named encoder
// was known but failed to initialize.
func GetEncoder(name string, v *viper.Viper, logger logrus.FieldLogger) (gobrubeck.Encoder, error) {
	f, found := encoders[name]
	if !found {
		return nil, nil
	}
	return f(v, logger)
}

// InitEncoder creates an instance of the named encoder.
func InitEncoder(name string, v *viper.Viper, logger logrus.FieldLogger) (gobrubeck.Encoder, error) {
	if name == "" {
		return nil, fmt.Errorf("no encoder type specified")
	}

	encoder, err := GetEncoder(name, v, logger)
	if err != nil {
		return nil, fmt.Errorf("could not init encoder %q: %v", name, err)
	}
	if encoder == nil {
		return nil, fmt.Errorf("unknown encoder %q", name)
	}
	logger.Infof("Initialised encoder %q", name)

	return encoder, nil
}
