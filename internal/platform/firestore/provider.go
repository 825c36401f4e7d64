package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/orders/internal/platform/config"
)

const connectTimeout = 10 * time.Second

// ErrProviderClosed is returned by Client after Close.
var ErrProviderClosed = errors.New("firestore: provider is closed")

// Provider hands out a single Firestore client built on first use. Connection failures are not
// cached, so the catalog recovers on a later request if Firestore was down at boot.
type Provider struct {
	projectID string
	emulator  string
	extra     []option.ClientOption

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// NewProvider reads the emulator address from cfg, then FIRESTORE_EMULATOR_HOST. opts are applied
// before the emulator overrides.
func NewProvider(cfg config.FirestoreConfig, opts ...option.ClientOption) *Provider {
	emulator := strings.TrimSpace(cfg.EmulatorHost)
	if emulator == "" {
		emulator = strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST"))
	}
	return &Provider{
		projectID: strings.TrimSpace(cfg.ProjectID),
		emulator:  emulator,
		extra:     opts,
	}
}

func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return nil, ErrProviderClosed
	case p.client != nil:
		return p.client, nil
	case p.projectID == "":
		return nil, errors.New("firestore: project id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	client, err := firestore.NewClient(ctx, p.projectID, p.options()...)
	if err != nil {
		return nil, fmt.Errorf("firestore: connect to project %s: %w", p.projectID, err)
	}
	p.client = client
	return client, nil
}

func (p *Provider) options() []option.ClientOption {
	opts := append([]option.ClientOption(nil), p.extra...)
	if p.emulator == "" {
		return opts
	}
	return append(opts,
		option.WithEndpoint(p.emulator),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
}

// Close is idempotent. Client fails with ErrProviderClosed afterwards.
func (p *Provider) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	client := p.client
	p.client = nil
	if client == nil {
		return nil
	}
	return client.Close()
}
