package relay

import (
	"context"

	"golang.org/x/time/rate"
)

// inboundPacer slows the client reader down to a byte rate. Frames are never
// dropped; the reader waits for tokens, and the outbound queue fills up behind
// it as usual.
type inboundPacer struct {
	limiter *rate.Limiter
	burst   int
}

func newInboundPacer(bytesPerSecond int, burstSeconds int) *inboundPacer {
	if bytesPerSecond <= 0 {
		return nil
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}
	burst := bytesPerSecond * burstSeconds
	return &inboundPacer{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
		burst:   burst,
	}
}

func (p *inboundPacer) wait(ctx context.Context, frameBytes int) error {
	if p == nil || frameBytes <= 0 {
		return nil
	}
	// WaitN rejects requests larger than the bucket.
	if frameBytes > p.burst {
		frameBytes = p.burst
	}
	return p.limiter.WaitN(ctx, frameBytes)
}
