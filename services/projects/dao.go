package projects

import (
	"encoding/json"
	"errors"

	"github.com/DC-ET/sentry-feishu/services/storage"
)

var (
	ErrNoProjectExists = errors.New("no project exists")
)

// Data access object for per-project options.
type OptionsDAO interface {
	// Retrieve the options of a project.
	Get(slug string) (Options, error)

	// Set creates or replaces the options of a project.
	Set(o Options) error

	// Delete the options of a project.
	// It is not an error to delete options that do not exist.
	Delete(slug string) error

	// List all options whose slug matches the glob pattern.
	List(pattern string) ([]Options, error)
}

//--------------------------------------------------------------------
// The following structures are stored in a database via JSON encoding.
// Changes to the structures could break existing data.

// version is the current version of the Options structure.
const version = 1

// Options are the plugin settings of a single Sentry project.
type Options struct {
	// Sentry project slug.
	Slug string `json:"slug" mapstructure:"slug"`
	// Feishu custom bot webhook URL.
	URL string `json:"url" mapstructure:"url"`
	// Signing secret of the bot, empty when signing is off.
	Secret   string `json:"secret" mapstructure:"secret"`
	Disabled bool   `json:"disabled" mapstructure:"disabled"`
	// Only events from these environments notify, all do when empty.
	Environments []string `json:"environments" mapstructure:"environments"`
}

func (o Options) ObjectID() string {
	return o.Slug
}

func (o Options) MarshalBinary() ([]byte, error) {
	return storage.VersionJSONEncode(version, o)
}

func (o *Options) UnmarshalBinary(data []byte) error {
	return storage.VersionJSONDecode(data, func(version int, dec *json.Decoder) error {
		return dec.Decode(o)
	})
}

// AllowsEnvironment reports whether events from env should notify.
func (o Options) AllowsEnvironment(env string) bool {
	if len(o.Environments) == 0 {
		return true
	}
	for _, e := range o.Environments {
		if e == env {
			return true
		}
	}
	return false
}

// Key/Value store based implementation of the OptionsDAO
type optionsKV struct {
	store *storage.ObjectStore
}

func newOptionsKV(store storage.Interface) (*optionsKV, error) {
	ostore, err := storage.NewObjectStore(store, "projects", func() storage.BinaryObject {
		return new(Options)
	})
	if err != nil {
		return nil, err
	}
	return &optionsKV{
		store: ostore,
	}, nil
}

func (kv *optionsKV) error(err error) error {
	if err == storage.ErrNoObjectExists {
		return ErrNoProjectExists
	}
	return err
}

func (kv *optionsKV) Get(slug string) (Options, error) {
	obj, err := kv.store.Get(slug)
	if err != nil {
		return Options{}, kv.error(err)
	}
	o, ok := obj.(*Options)
	if !ok {
		return Options{}, storage.ImpossibleTypeErr(o, obj)
	}
	return *o, nil
}

func (kv *optionsKV) Set(o Options) error {
	return kv.store.Put(&o)
}

func (kv *optionsKV) Delete(slug string) error {
	return kv.store.Delete(slug)
}

func (kv *optionsKV) List(pattern string) ([]Options, error) {
	objects, err := kv.store.List(pattern, 0, -1)
	if err != nil {
		return nil, err
	}
	options := make([]Options, len(objects))
	for i, obj := range objects {
		o, ok := obj.(*Options)
		if !ok {
			return nil, storage.ImpossibleTypeErr(o, obj)
		}
		options[i] = *o
	}
	return options, nil
}
