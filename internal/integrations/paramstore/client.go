package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is the interface that wraps GetParameter.
// Consumers (e.g. the OpenAI client and the chat service) should depend on
// this interface rather than the concrete *Client so they remain testable
// without real AWS calls.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client wraps an AWS SSM API for parameter retrieval.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// Cache wraps a Getter and memoizes successful lookups for the lifetime of
// the process. Parameters here (model name, pinned prompt, API token) change
// rarely; a stale value survives at most one deployment.
type Cache struct {
	getter Getter

	mu   sync.RWMutex
	vals map[string]string
}

// NewCache creates a caching layer over the given Getter.
func NewCache(getter Getter) (*Cache, error) {
	if getter == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	return &Cache{getter: getter, vals: make(map[string]string)}, nil
}

func (c *Cache) GetParameter(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	v, ok := c.vals[name]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	v, err := c.getter.GetParameter(ctx, name)
	if err != nil {
		// Failed lookups are not cached so transient SSM errors can recover.
		return "", err
	}

	c.mu.Lock()
	c.vals[name] = v
	c.mu.Unlock()
	return v, nil
}

// Interface compliance checks.
var (
	_ Getter = (*Client)(nil)
	_ Getter = (*Cache)(nil)
)
