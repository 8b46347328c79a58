package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dialRecorder struct {
	calls []string
	err   error
}

func (d *dialRecorder) dial(_ context.Context, uri, _ string, _ time.Duration) (*MongoDB, error) {
	d.calls = append(d.calls, uri)
	if d.err != nil {
		return nil, d.err
	}
	return &MongoDB{timeout: time.Second}, nil
}

func TestProvider_ConnectionCreatedOnce(t *testing.T) {
	rec := &dialRecorder{}
	p := NewProvider("webportal", time.Second, false, WithDialer(rec.dial))

	first, err := p.Connection(context.Background(), "mongodb://mongo", 27017)
	require.NoError(t, err)

	second, err := p.Connection(context.Background(), "otherhost", 1234)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, []string{"mongodb://mongo:27017"}, rec.calls)
}

func TestProvider_FailedAttemptNotCached(t *testing.T) {
	rec := &dialRecorder{err: errors.New("connection refused")}
	p := NewProvider("webportal", time.Second, false, WithDialer(rec.dial))

	_, err := p.Connection(context.Background(), "mongo", 27017)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)

	rec.err = nil
	conn, err := p.Connection(context.Background(), "mongo", 27017)
	require.NoError(t, err)
	assert.NotNil(t, conn)
	assert.Len(t, rec.calls, 2)
}

func TestProvider_Close(t *testing.T) {
	rec := &dialRecorder{}
	p := NewProvider("webportal", time.Second, false, WithDialer(rec.dial))

	require.NoError(t, p.Close(context.Background()))

	_, err := p.Connection(context.Background(), "mongo", 27017)
	require.NoError(t, err)
	require.NoError(t, p.Close(context.Background()))

	_, err = p.Connection(context.Background(), "mongo", 27017)
	require.NoError(t, err)
	assert.Len(t, rec.calls, 2)
}

func TestBuildURI(t *testing.T) {
	tests := []struct {
		name string
		host string
		port int
		want string
	}{
		{"defaults", "", 0, "mongodb://mongo:27017"},
		{"bare host", "db.internal", 27018, "mongodb://db.internal:27018"},
		{"scheme without port", "mongodb://mongo", 27017, "mongodb://mongo:27017"},
		{"full uri keeps port", "mongodb://mongo:27017", 1, "mongodb://mongo:27017"},
		{"uri with database", "mongodb://user:pw@mongo/admin", 27017, "mongodb://user:pw@mongo/admin"},
		{"srv", "mongodb+srv://cluster.example.net", 27017, "mongodb+srv://cluster.example.net"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildURI(tt.host, tt.port))
		})
	}
}

func TestMongoDB_WithTransactionDisabledRunsDirectly(t *testing.T) {
	m := &MongoDB{}
	called := false

	err := m.WithTransaction(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, m.Transactional())
}

func TestMongoDB_PingWithoutClient(t *testing.T) {
	m := &MongoDB{}
	assert.ErrorIs(t, m.Ping(context.Background()), ErrConnection)
}
