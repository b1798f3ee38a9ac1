package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"go.viam.com/stereoslam/logging"
)

// Read reads a config from the given file, expanding environment variables first.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	var attributes map[string]interface{}
	if err := json.NewDecoder(r).Decode(&attributes); err != nil {
		return nil, errors.Wrapf(err, "failed to decode config from json")
	}
	cfg, unused, err := decodeAttributes(attributes)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(originalPath); err != nil {
		return nil, err
	}
	for _, name := range unused {
		logger.Warnw("ignoring unknown config option", "path", originalPath, "option", name)
	}
	return cfg, nil
}

// FromAttributes decodes a config from a loosely typed attribute map, accepting numbers and
// booleans written as strings.
func FromAttributes(attributes map[string]interface{}) (*Config, error) {
	cfg, _, err := decodeAttributes(attributes)
	return cfg, err
}

func decodeAttributes(attributes map[string]interface{}) (*Config, []string, error) {
	var conf Config
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &conf,
		WeaklyTypedInput: true,
		Metadata:         &md,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, nil, errors.Wrap(err, "failed to decode config attributes")
	}
	return &conf, md.Unused, nil
}
