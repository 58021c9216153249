package afpacket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netmon/internal/config"
	"firestige.xyz/netmon/internal/core"
	"firestige.xyz/netmon/internal/filter"
	"firestige.xyz/netmon/internal/probe"
)

func TestRecomputeSize(t *testing.T) {
	tests := []struct {
		name     string
		ringMB   int
		snapLen  int
		pageSize int
	}{
		{"default snaplen", 8, 65535, 4096},
		{"small snaplen", 8, 1500, 4096},
		{"tiny ring", 1, 262144, 4096},
		{"large pages", 64, 9000, 65536},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, block, blocks, err := recomputeSize(tt.ringMB, tt.snapLen, tt.pageSize)
			require.NoError(t, err)

			assert.Zero(t, frame%16, "frame aligned to TPACKET_ALIGNMENT")
			assert.GreaterOrEqual(t, frame, tt.snapLen)
			assert.Zero(t, block%tt.pageSize, "block is whole pages")
			assert.Zero(t, block%frame, "block is whole frames")
			assert.LessOrEqual(t, block, 4<<20)
			assert.GreaterOrEqual(t, blocks, 1)
		})
	}
}

func TestRecomputeSizeExactFit(t *testing.T) {
	// 1500 + 52 = 1552 is already aligned; lcm(4096, 1552) = 397312.
	frame, block, blocks, err := recomputeSize(8, 1500, 4096)
	require.NoError(t, err)
	assert.Equal(t, 1552, frame)
	assert.Equal(t, 397312, block)
	assert.Equal(t, 21, blocks)
}

func TestRecomputeSizeDefaultSnapLen(t *testing.T) {
	// 65535 + 52 rounds to 65600 and lcm(4096, 65600) is just above 4MB,
	// so the frame widens to 17 pages and 60 of them fill a block.
	frame, block, blocks, err := recomputeSize(8, 65535, 4096)
	require.NoError(t, err)
	assert.Equal(t, 69632, frame)
	assert.Equal(t, 60*69632, block)
	assert.Zero(t, block%frame)
	assert.Zero(t, block%4096)
	assert.Equal(t, 2, blocks)
}

func TestRecomputeSizeRejects(t *testing.T) {
	for name, args := range map[string][3]int{
		"zero ring":    {0, 1500, 4096},
		"zero snaplen": {8, 0, 4096},
		"odd page":     {8, 1500, 4095},
		"huge snaplen": {8, 5 << 20, 4096},
	} {
		_, _, _, err := recomputeSize(args[0], args[1], args[2])
		assert.ErrorIs(t, err, core.ErrConfigInvalid, name)
	}
}

func TestNewBuildsOneRingPerWorker(t *testing.T) {
	cfg := config.CaptureConfig{
		Interface:    "eth0",
		RingCapacity: 128,
		AFPacket: config.AFPacketConfig{
			Workers: 3,
			RingMB:  4,
			SnapLen: 2048,
		},
	}
	s, err := New(cfg, probe.Config{PayloadBytes: 64}, filter.Spec{})
	require.NoError(t, err)
	assert.Equal(t, Name, s.Name())
	assert.Len(t, s.Channel().Streams(), 3)
	assert.Equal(t, 3, s.workers)
	assert.Equal(t, 100*time.Millisecond, s.pollTimeout)

	// Detach before Start is a no-op.
	assert.NoError(t, s.Close())
}

func TestNewRequiresInterface(t *testing.T) {
	_, err := New(config.CaptureConfig{RingCapacity: 1, AFPacket: config.AFPacketConfig{RingMB: 1, SnapLen: 64}}, probe.Config{}, filter.Spec{})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}
