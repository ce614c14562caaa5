package fireglobe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Marshal-AM/fireglobe/internal/config"
	"github.com/Marshal-AM/fireglobe/internal/ipfs"
)

type memoryStore struct {
	puts map[string][]byte
	err  error
}

func (m *memoryStore) Name() string { return "memory" }

func (m *memoryStore) Put(_ context.Context, name string, data []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.puts[name] = data
	return "bafy-" + name, nil
}

func TestOptionsResolve(t *testing.T) {
	store := &memoryStore{puts: map[string][]byte{}}
	logger := slog.Default()
	o := resolvedOptions{}
	for _, fn := range []Option{
		WithPort(4000),
		WithDatabaseURL("postgres://localhost/fireglobe"),
		WithLogger(logger),
		WithVersion("1.2.3"),
		WithContentStore(store),
		WithExtraRoutes(func(*http.ServeMux) {}),
		WithMiddleware(func(h http.Handler) http.Handler { return h }),
		WithMiddleware(func(h http.Handler) http.Handler { return h }),
	} {
		fn(&o)
	}
	assert.Equal(t, 4000, o.port)
	assert.Equal(t, "postgres://localhost/fireglobe", o.databaseURL)
	assert.Same(t, logger, o.logger)
	assert.Equal(t, "1.2.3", o.version)
	assert.Equal(t, store, o.contentStore)
	assert.Len(t, o.routeRegistrars, 1)
	assert.Len(t, o.middlewares, 2)
}

func TestContentStoreAdapter(t *testing.T) {
	store := &memoryStore{puts: map[string][]byte{}}
	var adapted ipfs.Store = &contentStoreAdapter{s: store}

	assert.Equal(t, "memory", adapted.Name())
	assert.True(t, adapted.Configured())

	obj, err := adapted.Put(context.Background(), "kg.json", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, ipfs.Object{Name: "kg.json", Hash: "bafy-kg.json", Size: 7}, obj)
	assert.Equal(t, []byte(`{"a":1}`), store.puts["kg.json"])

	store.err = errors.New("pin failed")
	_, err = adapted.Put(context.Background(), "m.json", nil)
	assert.EqualError(t, err, "pin failed")
}

func TestNewContentStoreSelectsBackend(t *testing.T) {
	s, err := newContentStore(config.Config{IPFSStore: config.StoreLighthouse, LighthouseAPIKey: "key"})
	require.NoError(t, err)
	assert.True(t, s.Configured())

	s, err = newContentStore(config.Config{IPFSStore: config.StoreS3, S3Endpoint: "s3.filebase.com", S3Bucket: "runs"})
	require.NoError(t, err)
	assert.False(t, s.Configured(), "s3 store without credentials is not configured")
	assert.NotEqual(t, "", s.Name())
}
