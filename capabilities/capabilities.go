package capabilities

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gitlab.com/Refeed/Worker/feed"
)

// Item is one entry descriptor produced by a Processor.
type Item struct {
	UID         string
	PublishedAt time.Time
	RawData     json.RawMessage
}

// ItemData is the raw_data payload shared between the built-in processors
// and the default normalizer.
type ItemData struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

// Loader fetches the raw content of a feed source.
type Loader interface {
	Load(ctx context.Context, f *feed.Feed) ([]byte, error)
}

// Processor parses raw content into entry descriptors.
type Processor interface {
	Process(ctx context.Context, raw []byte) ([]Item, error)
}

// Normalizer converts one persisted entry into a candidate post. Posts the
// normalizer deems unpublishable carry validation errors.
type Normalizer interface {
	Normalize(ctx context.Context, f *feed.Feed, entry *feed.Entry) (*feed.Post, error)
}

// UnknownCapabilityError indicates a feed references a capability key that
// is not registered. This is a misconfiguration, not a transient failure.
type UnknownCapabilityError struct {
	Role string
	Key  string
}

func (e *UnknownCapabilityError) Error() string {
	return fmt.Sprintf("unknown %s capability: %q", e.Role, e.Key)
}

// IsUnknownCapability reports whether err is an UnknownCapabilityError.
func IsUnknownCapability(err error) bool {
	_, ok := err.(*UnknownCapabilityError)
	return ok
}

// Registry resolves capability implementations by the string keys stored on
// feeds.
type Registry struct {
	loaders     map[string]Loader
	processors  map[string]Processor
	normalizers map[string]Normalizer
}

func NewRegistry() *Registry {
	return &Registry{
		loaders:     map[string]Loader{},
		processors:  map[string]Processor{},
		normalizers: map[string]Normalizer{},
	}
}

func (r *Registry) RegisterLoader(key string, loader Loader) {
	r.loaders[key] = loader
}

func (r *Registry) RegisterProcessor(key string, processor Processor) {
	r.processors[key] = processor
}

func (r *Registry) RegisterNormalizer(key string, normalizer Normalizer) {
	r.normalizers[key] = normalizer
}

func (r *Registry) Loader(key string) (Loader, error) {
	loader, ok := r.loaders[key]
	if !ok {
		return nil, &UnknownCapabilityError{Role: "loader", Key: key}
	}

	return loader, nil
}

func (r *Registry) Processor(key string) (Processor, error) {
	processor, ok := r.processors[key]
	if !ok {
		return nil, &UnknownCapabilityError{Role: "processor", Key: key}
	}

	return processor, nil
}

func (r *Registry) Normalizer(key string) (Normalizer, error) {
	normalizer, ok := r.normalizers[key]
	if !ok {
		return nil, &UnknownCapabilityError{Role: "normalizer", Key: key}
	}

	return normalizer, nil
}

// DefaultRegistry registers all built-in capabilities.
func DefaultRegistry(httpClient *http.Client) *Registry {
	registry := NewRegistry()

	registry.RegisterLoader("http", NewHTTPLoader(httpClient))
	registry.RegisterLoader("gall", NewGallLoader(httpClient))
	registry.RegisterProcessor("rss", NewRSSProcessor())
	registry.RegisterProcessor("gall", &GallProcessor{})
	registry.RegisterNormalizer("default", &DefaultNormalizer{})

	return registry
}
