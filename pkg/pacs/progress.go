package pacs

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxWaitChunk bounds a single limiter reservation; it doubles as the
// slack allowed above the cumulative cap.
const maxWaitChunk = 64 * 1024

// progressReader streams an upload body while reporting progress at
// every chunk boundary and throttling so the cumulative average rate
// never exceeds the live upload cap. The cap is re-read before each
// chunk, so a config change mid upload takes effect on the next chunk.
type progressReader struct {
	ctx     context.Context
	src     io.Reader
	total   int64
	sent    int64
	cb      func(sent, total int64)
	capFn   func() int64 // bytes/second, <=0 means unthrottled
	limiter *rate.Limiter
	lastCap int64
}

func newProgressReader(ctx context.Context, src io.Reader, total int64, cb func(sent, total int64), capFn func() int64) *progressReader {
	r := &progressReader{
		ctx:     ctx,
		src:     src,
		total:   total,
		cb:      cb,
		capFn:   capFn,
		limiter: rate.NewLimiter(rate.Inf, maxWaitChunk),
		lastCap: -1,
	}
	r.applyCap()
	if r.cb != nil {
		r.cb(0, total)
	}
	return r
}

func (r *progressReader) applyCap() {
	c := int64(0)
	if r.capFn != nil {
		c = r.capFn()
	}
	if c == r.lastCap {
		return
	}
	r.lastCap = c
	if c <= 0 {
		r.limiter.SetLimit(rate.Inf)
		return
	}
	r.limiter.SetLimit(rate.Limit(c))
}

func (r *progressReader) Read(p []byte) (int, error) {
	r.applyCap()
	n, err := r.src.Read(p)
	if n > 0 {
		r.sent += int64(n)
		if r.lastCap > 0 {
			if werr := r.wait(n); werr != nil {
				return n, werr
			}
		}
		if r.cb != nil {
			r.cb(r.sent, r.total)
		}
	}
	return n, err
}

func (r *progressReader) wait(n int) error {
	for n > 0 {
		step := n
		if step > maxWaitChunk {
			step = maxWaitChunk
		}
		if err := r.limiter.WaitN(r.ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
