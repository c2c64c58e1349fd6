package session

import "time"

// audioBudget rate-limits inbound mic audio with two token buckets, one in
// frames per second and one in bytes per second. A nil budget admits
// everything.
type audioBudget struct {
	now        func() time.Time
	lastRefill time.Time

	frames bucket
	bytes  bucket
}

type bucket struct {
	rate   int64
	burst  int64
	tokens int64
}

func (b *bucket) refill(elapsed time.Duration) {
	if b.rate <= 0 {
		return
	}
	add := (elapsed.Nanoseconds() * b.rate) / int64(time.Second)
	if add <= 0 {
		return
	}
	b.tokens += add
	if cap := b.rate * b.burst; b.tokens > cap {
		b.tokens = cap
	}
}

func newAudioBudget(now func() time.Time, framesPerSec int, bytesPerSec int64, burstSeconds int) *audioBudget {
	if framesPerSec <= 0 && bytesPerSec <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}
	b := &audioBudget{
		now:        now,
		lastRefill: now(),
		frames:     bucket{rate: int64(framesPerSec), burst: int64(burstSeconds)},
		bytes:      bucket{rate: bytesPerSec, burst: int64(burstSeconds)},
	}
	b.frames.tokens = b.frames.rate * b.frames.burst
	b.bytes.tokens = b.bytes.rate * b.bytes.burst
	return b
}

// Allow charges one frame of frameBytes bytes against both buckets. Neither
// bucket is charged unless both admit the frame.
func (b *audioBudget) Allow(frameBytes int) bool {
	if b == nil {
		return true
	}
	if frameBytes < 0 {
		frameBytes = 0
	}

	now := b.now()
	if elapsed := now.Sub(b.lastRefill); elapsed > 0 {
		b.frames.refill(elapsed)
		b.bytes.refill(elapsed)
		b.lastRefill = now
	}

	if b.frames.rate > 0 && b.frames.tokens < 1 {
		return false
	}
	if b.bytes.rate > 0 && b.bytes.tokens < int64(frameBytes) {
		return false
	}
	if b.frames.rate > 0 {
		b.frames.tokens--
	}
	if b.bytes.rate > 0 {
		b.bytes.tokens -= int64(frameBytes)
	}
	return true
}
