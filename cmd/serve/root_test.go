package serve

import (
	"testing"

	"github.com/ValentinKolb/kStorage/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShards(t *testing.T) {
	shards, err := parseShards("1, 2,,10")
	require.NoError(t, err)
	assert.Equal(t, []common.ServerShard{{ShardID: 1}, {ShardID: 2}, {ShardID: 10}}, shards)

	for _, bad := range []string{"", " , ", "1,1", "x", "-1"} {
		_, err := parseShards(bad)
		assert.Error(t, err, bad)
	}
}
