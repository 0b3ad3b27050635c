package connectors

import (
	"fmt"
	"sort"
	"sync"

	"orderengine/src/model"

	logger "github.com/sirupsen/logrus"
)

// Factory builds an adapter for one credential.
type Factory func(baseURL string, creds Credentials, opts Options) Adapter

type venueEntry struct {
	factory    Factory
	production string
	sandbox    string
}

// Registry is the closed set of supported venues. Adding a venue means registering
// a factory here; callers never branch on venue names.
type Registry struct {
	opts   Options
	venues map[model.Venue]venueEntry
}

func NewRegistry(cfg Config) *Registry {
	r := &Registry{opts: cfg.Options(), venues: make(map[model.Venue]venueEntry)}
	r.Register(model.VenueBinance, cfg.BinanceBaseURL, cfg.BinanceSandboxURL,
		func(baseURL string, creds Credentials, opts Options) Adapter {
			return NewBinanceClient(baseURL, creds, opts)
		})
	r.Register(model.VenueBybit, cfg.BybitBaseURL, cfg.BybitSandboxURL,
		func(baseURL string, creds Credentials, opts Options) Adapter {
			return NewBybitClient(baseURL, creds, opts)
		})
	return r
}

func (r *Registry) Register(venue model.Venue, productionURL, sandboxURL string, f Factory) {
	r.venues[venue] = venueEntry{factory: f, production: productionURL, sandbox: sandboxURL}
}

func (r *Registry) Venues() []model.Venue {
	out := make([]model.Venue, 0, len(r.venues))
	for v := range r.venues {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) New(venue model.Venue, environment string, creds Credentials) (Adapter, error) {
	entry, ok := r.venues[venue]
	if !ok {
		return nil, fmt.Errorf("unsupported venue %q", venue)
	}
	baseURL := entry.production
	if environment == model.EnvironmentSandbox {
		baseURL = entry.sandbox
	}
	return entry.factory(baseURL, creds, r.opts), nil
}

// Decrypter opens the stored key material of a credential.
type Decrypter interface {
	Decrypt(value string) (string, error)
}

type pooled struct {
	adapter     Adapter
	fingerprint string
}

func fingerprint(cred *model.ExchangeCredential) string {
	return string(cred.Venue) + "|" + cred.Environment + "|" + cred.APIKeyEnc + "|" + cred.APISecretEnc
}

// Pool keeps one adapter per credential so rate limiters and clock offsets survive
// between calls. An adapter is rebuilt when the key material or environment changes.
type Pool struct {
	registry  *Registry
	decrypter Decrypter

	mu    sync.Mutex
	items map[uint]pooled
}

func NewPool(registry *Registry, decrypter Decrypter) *Pool {
	return &Pool{registry: registry, decrypter: decrypter, items: make(map[uint]pooled)}
}

func (p *Pool) For(cred *model.ExchangeCredential) (Adapter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if item, ok := p.items[cred.ID]; ok && item.fingerprint == fingerprint(cred) {
		return item.adapter, nil
	}

	key, err := p.decrypter.Decrypt(cred.APIKeyEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypt api key of credential %d: %w", cred.ID, err)
	}
	secret, err := p.decrypter.Decrypt(cred.APISecretEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypt api secret of credential %d: %w", cred.ID, err)
	}

	adapter, err := p.registry.New(cred.Venue, cred.Environment, Credentials{APIKey: key, APISecret: secret})
	if err != nil {
		return nil, err
	}
	p.items[cred.ID] = pooled{adapter: adapter, fingerprint: fingerprint(cred)}

	logger.WithFields(map[string]interface{}{
		"component":     "adapter_pool",
		"credential_id": cred.ID,
		"venue":         cred.Venue,
		"environment":   cred.Environment,
	}).Debug("adapter created")

	return adapter, nil
}

// Evict drops the cached adapter, e.g. after the credential was deleted.
func (p *Pool) Evict(credentialID uint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.items, credentialID)
}
