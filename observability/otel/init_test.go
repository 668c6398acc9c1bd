package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = abc ,broken, =x,tenant=farm")
	require.Equal(t, map[string]string{"api-key": "abc", "tenant": "farm"}, got)
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{Traces: true})
	require.Error(t, err)
}

func TestBuildResourceCarriesAttributes(t *testing.T) {
	res, err := buildResource(Config{ServiceName: "farmd", Environment: "test", Attributes: map[string]string{"farm.reward_asset": "RWD"}})
	require.NoError(t, err)
	found := false
	for _, kv := range res.Attributes() {
		if string(kv.Key) == "farm.reward_asset" {
			found = kv.Value.AsString() == "RWD"
		}
	}
	require.True(t, found)
}
