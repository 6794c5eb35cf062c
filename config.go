package smb2core

import (
	"io"
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/docker/go-units"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

// Config holds the per-connection settings of a Context.
type Config struct {
	// Limits
	MaxInFlight    int    `mapstructure:"max_in_flight" validate:"gte=1"`                 // Outstanding PDUs before allocation fails (default: 128)
	MaxBufferBytes int64  `mapstructure:"max_buffer_bytes" validate:"gte=0"`              // Owned segment budget in bytes, 0 = unlimited
	MaxReadSize    uint32 `mapstructure:"max_read_size" validate:"gte=1,lte=8388608"`     // Largest READ length accepted (default: 8MB)
	MaxWriteSize   uint32 `mapstructure:"max_write_size" validate:"gte=1,lte=8388608"`    // Largest WRITE length accepted (default: 8MB)

	// Observability
	Logger  logrus.FieldLogger `mapstructure:"-" validate:"-"` // Logger (nil = no logging)
	Metrics *Metrics           `mapstructure:"-" validate:"-"` // PDU metrics (nil = disabled)
}

var configValidator = validator.New()

// setDefaults sets default values for any unspecified configuration options.
func (c *Config) setDefaults() {
	if c.MaxInFlight == 0 {
		c.MaxInFlight = 128
	}
	if c.MaxReadSize == 0 {
		c.MaxReadSize = MaxReadSize
	}
	if c.MaxWriteSize == 0 {
		c.MaxWriteSize = MaxWriteSize
	}
	if c.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		c.Logger = l
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// ParseConfig decodes a generic settings map (as produced by a YAML, JSON
// or flag layer) into a Config. Size fields accept integers or strings such
// as "1MiB" or "64k".
func ParseConfig(settings map[string]interface{}) (*Config, error) {
	cfg := &Config{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       sizeStringHook,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return nil, errors.Wrap(err, "building config decoder")
	}
	if err := dec.Decode(settings); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// sizeStringHook turns human-readable size strings into integers for
// integer-typed fields.
func sizeStringHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	switch to.Kind() {
	case reflect.Int, reflect.Int64, reflect.Uint32:
	default:
		return data, nil
	}
	n, err := units.RAMInBytes(data.(string))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid size %q", data)
	}
	return n, nil
}
