/*
Copyright 2024 Railcore Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedDecision struct {
	DecisionID string `json:"decision_id"`
	Approved   bool   `json:"approved"`
}

func testCache(t *testing.T) Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := newRedisCache([]string{"redis://" + mr.Addr()}, false)
	require.NoError(t, err)
	return c
}

func TestCacheRoundTrip(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	stored := cachedDecision{DecisionID: "dec_1", Approved: true}
	assert.NoError(t, c.Set(ctx, "decision:key1", stored, time.Minute))

	var loaded cachedDecision
	assert.NoError(t, c.Get(ctx, "decision:key1", &loaded))
	assert.Equal(t, stored, loaded)
}

// A miss is not an error and must leave the target untouched, so the decision
// engine can tell "not cached" from "cached decline".
func TestCacheMissLeavesTargetUntouched(t *testing.T) {
	c := testCache(t)

	loaded := cachedDecision{DecisionID: "sentinel"}
	assert.NoError(t, c.Get(context.Background(), "decision:absent", &loaded))
	assert.Equal(t, "sentinel", loaded.DecisionID)
}

func TestCacheDelete(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	assert.NoError(t, c.Set(ctx, "decision:key1", cachedDecision{DecisionID: "dec_1"}, time.Minute))
	assert.NoError(t, c.Delete(ctx, "decision:key1"))

	var loaded cachedDecision
	assert.NoError(t, c.Get(ctx, "decision:key1", &loaded))
	assert.Empty(t, loaded.DecisionID)
}
