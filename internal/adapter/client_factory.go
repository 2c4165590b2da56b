package adapter

import (
	"fmt"
	"strings"

	"github.com/dghubble/oauth1"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/faveindex/internal/circuitbreaker"
	"github.com/faveindex/internal/models"
)

// TokenDecrypter opens the access token stored on a user record
type TokenDecrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// ClientFactory builds per-user clients and keeps recently used ones
type ClientFactory struct {
	cfg      ClientConfig
	consumer *oauth1.Config
	cipher   TokenDecrypter
	breaker  *circuitbreaker.CircuitBreaker
	cache    *lru.Cache[string, *TwitterClient]
}

// NewClientFactory creates a factory caching up to cacheSize clients. All
// clients share one circuit breaker, tripped only by source outages.
func NewClientFactory(cfg ClientConfig, consumerKey, consumerSecret string, cipher TokenDecrypter, cacheSize int) (*ClientFactory, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New[string, *TwitterClient](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create client cache: %w", err)
	}
	breakerCfg := circuitbreaker.DefaultConfig("content-source")
	breakerCfg.IsFailure = IsSourceOutage
	return &ClientFactory{
		cfg:      cfg,
		consumer: oauth1.NewConfig(consumerKey, consumerSecret),
		cipher:   cipher,
		breaker:  circuitbreaker.NewCircuitBreaker(breakerCfg),
		cache:    cache,
	}, nil
}

// ForUser returns a client authenticated as user
func (f *ClientFactory) ForUser(user *models.UserRecord) (ContentSource, error) {
	// keyed on the sealed token too, so a re-onboarded user gets a fresh client
	key := user.ID + "\x00" + user.EncryptedToken
	if client, ok := f.cache.Get(key); ok {
		return client, nil
	}

	token, err := f.cipher.Decrypt(user.EncryptedToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt access token for %s: %w", user.ID, err)
	}
	secret, err := f.cipher.Decrypt(user.EncryptedTokenSecret)
	if err != nil {
		return nil, fmt.Errorf("decrypt token secret for %s: %w", user.ID, err)
	}

	client := NewTwitterClient(f.cfg, f.consumer, token, secret, f.breaker)
	f.cache.Add(key, client)
	return client, nil
}

// Forget drops any cached client for userID
func (f *ClientFactory) Forget(userID string) {
	prefix := userID + "\x00"
	for _, key := range f.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			f.cache.Remove(key)
		}
	}
}
