package database

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultHost = "mongodb://mongo"
	DefaultPort = 27017
)

// Dialer opens a new connection. Replaced in tests.
type Dialer func(ctx context.Context, uri, dbName string, timeout time.Duration) (*MongoDB, error)

type ProviderOption func(*Provider)

func WithDialer(d Dialer) ProviderOption {
	return func(p *Provider) {
		p.dial = d
	}
}

// Provider hands out one shared MongoDB connection. The first successful call to
// Connection decides the target; later calls return the same instance whatever
// arguments they pass.
type Provider struct {
	mu      sync.Mutex
	conn    *MongoDB
	dbName  string
	timeout time.Duration
	dial    Dialer
}

func NewProvider(dbName string, timeout time.Duration, transactional bool, opts ...ProviderOption) *Provider {
	p := &Provider{
		dbName:  dbName,
		timeout: timeout,
		dial: func(ctx context.Context, uri, dbName string, timeout time.Duration) (*MongoDB, error) {
			return NewMongoDB(ctx, uri, dbName, timeout, WithTransactions(transactional))
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Connection(ctx context.Context, host string, port int) (*MongoDB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return p.conn, nil
	}

	uri := BuildURI(host, port)
	conn, err := p.dial(ctx, uri, p.dbName, p.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	p.conn = conn
	return conn, nil
}

func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}
	err := p.conn.Close(ctx)
	p.conn = nil
	return err
}

// BuildURI accepts either a full mongodb URI, in which case port is ignored, or a
// bare host name.
func BuildURI(host string, port int) string {
	if host == "" {
		host = DefaultHost
	}
	if port == 0 {
		port = DefaultPort
	}

	if strings.HasPrefix(host, "mongodb://") || strings.HasPrefix(host, "mongodb+srv://") {
		rest := strings.TrimPrefix(strings.TrimPrefix(host, "mongodb+srv://"), "mongodb://")
		if strings.Contains(rest, ":") || strings.Contains(rest, "/") || strings.HasPrefix(host, "mongodb+srv://") {
			return host
		}
		return "mongodb://" + net.JoinHostPort(rest, strconv.Itoa(port))
	}

	return "mongodb://" + net.JoinHostPort(host, strconv.Itoa(port))
}
