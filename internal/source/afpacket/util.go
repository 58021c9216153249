package afpacket

import (
	"fmt"
	"runtime"

	"firestige.xyz/netmon/internal/core"
)

// recomputeSize derives frame size, block size and block count for a
// TPACKET_V3 ring of about ringMB megabytes.
//
// PACKET_MMAP requires:
//  1. frameSize is a multiple of TPACKET_ALIGNMENT (16 bytes)
//  2. blockSize is a multiple of pageSize
//  3. blockSize is a multiple of frameSize
func recomputeSize(ringMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const tpacketAlignment = 16
	const tpacketHdrLen = 52 // TPACKET3_HDRLEN, rounded
	const maxBlockSize = 4 << 20

	if ringMB <= 0 {
		return 0, 0, 0, fmt.Errorf("%w: ring_mb must be positive, got %d", core.ErrConfigInvalid, ringMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("%w: snap_len must be positive, got %d", core.ErrConfigInvalid, snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("%w: page size must be a positive multiple of %d, got %d", core.ErrConfigInvalid, tpacketAlignment, pageSize)
	}

	frameSize = alignUp(tpacketHdrLen+snapLen, tpacketAlignment)

	blockSize = lcm(pageSize, frameSize)
	if blockSize > maxBlockSize {
		// No block under the cap is both whole pages and whole frames.
		// Widen the frame to whole pages and pack as many as fit.
		frameSize = alignUp(frameSize, pageSize)
		if frameSize > maxBlockSize {
			return 0, 0, 0, fmt.Errorf("%w: snap_len %d needs a frame of %d bytes, above the %d byte block limit",
				core.ErrConfigInvalid, snapLen, frameSize, maxBlockSize)
		}
		blockSize = (maxBlockSize / frameSize) * frameSize
	}

	numBlocks = (ringMB << 20) / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

// workerCount resolves the configured worker count; zero means one per CPU.
func workerCount(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

func alignUp(n, align int) int {
	return ((n + align - 1) / align) * align
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return (a / gcd(a, b)) * b
}
