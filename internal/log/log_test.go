package log_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/runbox/internal/log"
)

func TestCtxValues(t *testing.T) {
	assert := assert.New(t)

	ctx := context.Background()
	assert.Equal(log.Kv{}, log.ValuesFromCtx(ctx))

	ctx1 := log.CtxWithValues(ctx, log.Kv{"request-id": "r1", "a": 1})
	ctx2 := log.CtxWithValues(ctx1, log.Kv{"a": 2, "job": "j1"})

	assert.Equal(log.Kv{"request-id": "r1", "a": 1}, log.ValuesFromCtx(ctx1))
	assert.Equal(log.Kv{"request-id": "r1", "a": 2, "job": "j1"}, log.ValuesFromCtx(ctx2))
}
