package server

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/DC-ET/sentry-feishu/services/diagnostic"
	"github.com/DC-ET/sentry-feishu/services/feishu"
	"github.com/DC-ET/sentry-feishu/services/httpd"
	"github.com/DC-ET/sentry-feishu/services/sentry"
	"github.com/DC-ET/sentry-feishu/services/storage"
	"github.com/pkg/errors"
)

// EnvPrefix prefixes every environment variable override,
// e.g. SENTRY_FEISHU_FEISHU_URL sets [feishu] url.
const EnvPrefix = "SENTRY_FEISHU"

// Config represents the configuration format for the sentry-feishud binary.
type Config struct {
	Hostname string `toml:"hostname"`

	HTTP    httpd.Config      `toml:"http"`
	Storage storage.Config    `toml:"storage"`
	Logging diagnostic.Config `toml:"logging"`

	Feishu feishu.Config `toml:"feishu"`
	Sentry sentry.Config `toml:"sentry"`
}

// NewConfig returns an instance of Config with reasonable defaults.
func NewConfig() *Config {
	c := &Config{
		Hostname: "localhost",
	}
	c.HTTP = httpd.NewConfig()
	c.Storage = storage.NewConfig()
	c.Logging = diagnostic.NewConfig()
	c.Feishu = feishu.NewConfig()
	c.Sentry = sentry.NewConfig()
	return c
}

// Validate returns an error if the config is invalid.
func (c *Config) Validate() error {
	if c.Hostname == "" {
		return errors.New("must configure valid hostname")
	}
	if err := c.HTTP.Validate(); err != nil {
		return errors.Wrap(err, "http")
	}
	if err := c.Storage.Validate(); err != nil {
		return errors.Wrap(err, "storage")
	}
	if err := c.Logging.Validate(); err != nil {
		return errors.Wrap(err, "logging")
	}
	if err := c.Feishu.Validate(); err != nil {
		return errors.Wrap(err, "feishu")
	}
	if err := c.Sentry.Validate(); err != nil {
		return errors.Wrap(err, "sentry")
	}
	return nil
}

// ApplyEnvOverrides sets config fields from SENTRY_FEISHU_* variables.
func (c *Config) ApplyEnvOverrides() error {
	return c.applyEnvOverrides(EnvPrefix, "", reflect.ValueOf(c))
}

func (c *Config) applyEnvOverrides(prefix string, fieldDesc string, spec reflect.Value) error {
	// If we have a pointer, dereference it
	s := spec
	if spec.Kind() == reflect.Ptr {
		s = spec.Elem()
	}

	var value string

	if s.Kind() != reflect.Struct {
		value = os.Getenv(prefix)
		// Skip any fields we don't have a value to set
		if value == "" {
			return nil
		}

		if fieldDesc != "" {
			fieldDesc = " to " + fieldDesc
		}
	}

	fail := func() error {
		return fmt.Errorf("failed to apply %v%v using type %v and value '%v'", prefix, fieldDesc, s.Type().String(), value)
	}

	switch s.Kind() {
	case reflect.String:
		s.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var intValue int64

		// Handle toml.Duration
		if s.Type().Name() == "Duration" {
			dur, err := time.ParseDuration(value)
			if err != nil {
				return fail()
			}
			intValue = dur.Nanoseconds()
		} else {
			var err error
			intValue, err = strconv.ParseInt(value, 0, s.Type().Bits())
			if err != nil {
				return fail()
			}
		}

		s.SetInt(intValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return fail()
		}
		s.SetBool(boolValue)
	case reflect.Float32, reflect.Float64:
		floatValue, err := strconv.ParseFloat(value, s.Type().Bits())
		if err != nil {
			return fail()
		}
		s.SetFloat(floatValue)
	case reflect.Slice:
		// Only lists of strings are set whole, as a comma separated value.
		if s.Type().Elem().Kind() != reflect.String {
			return fail()
		}
		parts := strings.Split(value, ",")
		list := reflect.MakeSlice(s.Type(), len(parts), len(parts))
		for i, p := range parts {
			list.Index(i).SetString(strings.TrimSpace(p))
		}
		s.Set(list)
	case reflect.Struct:
		if err := c.applyEnvOverridesToStruct(prefix, s); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyEnvOverridesToStruct(prefix string, s reflect.Value) error {
	typeOfSpec := s.Type()
	for i := 0; i < s.NumField(); i++ {
		f := s.Field(i)
		// Get the toml tag to determine what env var name to use
		configName := typeOfSpec.Field(i).Tag.Get("toml")
		if configName == "" || configName == "-" {
			continue
		}
		// Replace hyphens with underscores to avoid issues with shells
		configName = strings.Replace(configName, "-", "_", -1)
		fieldName := typeOfSpec.Field(i).Name

		// Skip any fields that we cannot set
		if !f.CanSet() {
			continue
		}
		key := strings.ToUpper(fmt.Sprintf("%s_%s", prefix, configName))
		if err := c.applyEnvOverrides(key, fieldName, f); err != nil {
			return err
		}
	}
	return nil
}
