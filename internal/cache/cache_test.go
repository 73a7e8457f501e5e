package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNilClient_BehavesAsEmptyCache(t *testing.T) {
	var c *Client
	ctx := context.Background()

	val, err := c.Get(ctx, "k")
	assert.NoError(t, err)
	assert.Nil(t, val)
	assert.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	assert.NoError(t, c.Delete(ctx, "k", "other"))
	assert.NoError(t, c.Ping(ctx))
	assert.NoError(t, c.Close())

	var dst []string
	assert.False(t, c.GetJSON(ctx, "k", &dst))
}

func TestUnreachableRedis_FailsSafe(t *testing.T) {
	// nothing listens on port 1
	c := New("127.0.0.1:1", "", 0)
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.Error(t, c.Ping(ctx))

	val, err := c.Get(ctx, "k")
	assert.NoError(t, err)
	assert.Nil(t, val)
	assert.NoError(t, c.SetJSON(ctx, "k", map[string]int{"a": 1}, time.Minute))
	assert.NoError(t, c.Delete(ctx, "k"))

	var dst map[string]int
	assert.False(t, c.GetJSON(ctx, "k", &dst))
}

func TestSetJSON_RejectsUnencodable(t *testing.T) {
	var c *Client
	err := c.SetJSON(context.Background(), "k", make(chan int), time.Minute)
	assert.Error(t, err)
}
