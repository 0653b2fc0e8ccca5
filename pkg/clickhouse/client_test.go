package clickhouse

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	cfg := defaultClientConfig()
	for _, opt := range []ClientOption{
		WithHost("ch.local"),
		WithPort(9440),
		WithDatabase("roulette"),
		WithCredentials("writer", "p@ss"),
		WithMaxExecutionTime(30 * time.Second),
		WithAsyncInsert(true, true),
	} {
		opt(cfg)
	}

	u, err := url.Parse(buildDSN(*cfg))
	require.NoError(t, err)
	assert.Equal(t, "clickhouse", u.Scheme)
	assert.Equal(t, "ch.local:9440", u.Host)
	assert.Equal(t, "/roulette", u.Path)
	assert.Equal(t, "writer", u.User.Username())
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss", pw)

	q := u.Query()
	assert.Equal(t, "30", q.Get("max_execution_time"))
	assert.Equal(t, "1", q.Get("async_insert"))
	assert.Equal(t, "1", q.Get("wait_for_async_insert"))
	assert.Equal(t, "5s", q.Get("dial_timeout"))
	assert.Empty(t, q.Get("write_timeout"))
}

func TestBuildDSNHTTP(t *testing.T) {
	cfg := defaultClientConfig()
	WithHost("localhost")(cfg)
	WithHTTP(true)(cfg)
	WithTimeouts(0, 0, 0)(cfg)

	u, err := url.Parse(buildDSN(*cfg))
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "10s", u.Query().Get("read_timeout"))
	assert.Empty(t, u.Query().Get("async_insert"))
}
