package adapter

import (
	"fmt"
	"sort"
)

// Credentials carries everything a constructor may need. Providers read
// only the fields they use.
type Credentials struct {
	APIKey       string
	BaseURL      string
	Models       []string
	Variants     map[string]string
	MockResponse string
}

// Constructor builds an adapter from credentials.
type Constructor func(creds Credentials) (Adapter, error)

var constructors = map[string]Constructor{
	"anthropic": func(creds Credentials) (Adapter, error) {
		return NewAnthropicAdapter(creds.APIKey)
	},
	"openai": func(creds Credentials) (Adapter, error) {
		return NewOpenAIAdapter(creds.APIKey)
	},
	"google": func(creds Credentials) (Adapter, error) {
		return NewGoogleAdapter(creds.APIKey)
	},
	"local": func(creds Credentials) (Adapter, error) {
		return NewLocalAdapter(creds.BaseURL, creds.Models, creds.Variants)
	},
	"mock": func(creds Credentials) (Adapter, error) {
		return NewMockAdapterWithResponses(nil, creds.MockResponse), nil
	},
}

// Register adds a constructor to the registry. Re-registering a name
// replaces the previous constructor.
func Register(name string, ctor Constructor) {
	constructors[name] = ctor
}

// Build resolves a provider id to a constructed adapter.
func Build(name string, creds Credentials) (Adapter, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown adapter %q (known: %v)", name, Known())
	}
	return ctor(creds)
}

// Known lists registered provider ids in stable order.
func Known() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
