//go:build integration

package observability

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/penf-linker/internal/testdb"
	"github.com/otherjamesbrown/penf-linker/pkg/logging"
)

func TestRedisPublisher_PublishCompleted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	r, err := testdb.StartRedis(ctx)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	defer r.Stop()

	sub := r.Client.Subscribe(ctx, ChannelLinkingCompleted)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	p := NewRedisPublisher(r.Client, logging.NewNopLogger())
	require.NoError(t, p.PublishCompleted(ctx, NewLinkingCompletedEvent(key, "alice", 2, 1, 1, 0, 0, time.Second)))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var event LinkingCompletedEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
	assert.Equal(t, "doc-1", event.DocumentID)
	assert.Equal(t, "alice", event.Principal)
}
