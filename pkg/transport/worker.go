// ABOUTME: Single-flight decode and render worker
// ABOUTME: Newer requests replace pending ones and superseded results are discarded
package transport

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/framesync/pkg/clip"
)

type renderRequest struct {
	seq       uint64
	contextID string
	decoder   clip.Decoder
	handle    clip.Handle
	frame     int
	width     int
	height    int
}

type renderResult struct {
	req       renderRequest
	decoded   bool
	renderErr error
	decodeDur time.Duration
	renderDur time.Duration
}

// renderWorker runs decode then render for one request at a time. Only the
// most recently submitted sequence number is ever rendered.
type renderWorker struct {
	renderer Renderer
	latest   atomic.Uint64

	mu      sync.Mutex
	pending *renderRequest

	wake    chan struct{}
	results chan renderResult
	quit    chan struct{}
	done    chan struct{}

	buf []byte
}

func newRenderWorker(renderer Renderer) *renderWorker {
	w := &renderWorker{
		renderer: renderer,
		wake:     make(chan struct{}, 1),
		results:  make(chan renderResult, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// submit queues req, replacing any request not yet started
func (w *renderWorker) submit(req renderRequest) {
	w.latest.Store(req.seq)

	w.mu.Lock()
	w.pending = &req
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// supersede invalidates everything submitted before seq
func (w *renderWorker) supersede(seq uint64) {
	w.latest.Store(seq)

	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()
}

func (w *renderWorker) take() (renderRequest, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return renderRequest{}, false
	}
	req := *w.pending
	w.pending = nil
	return req, true
}

func (w *renderWorker) stop() {
	close(w.quit)
	<-w.done
}

func (w *renderWorker) run() {
	defer close(w.done)

	for {
		select {
		case <-w.quit:
			return
		case <-w.wake:
		}

		req, ok := w.take()
		if !ok || req.seq != w.latest.Load() {
			continue
		}

		res, ok := w.process(req)
		if !ok {
			continue
		}

		select {
		case w.results <- res:
		case <-w.quit:
			return
		}
	}
}

// process returns false when req was superseded during decode
func (w *renderWorker) process(req renderRequest) (renderResult, bool) {
	size := req.width * req.height * clip.BytesPerPixel
	if cap(w.buf) < size {
		w.buf = make([]byte, size)
	}
	pixels := w.buf[:size]

	res := renderResult{req: req}

	start := time.Now()
	res.decoded = req.decoder.DecodeFrame(req.handle, req.frame, pixels, req.width, req.height)
	res.decodeDur = time.Since(start)

	if !res.decoded {
		return res, true
	}
	if req.seq != w.latest.Load() {
		return res, false
	}

	start = time.Now()
	res.renderErr = w.renderer.Render(Frame{
		ContextID: req.contextID,
		Index:     req.frame,
		Width:     req.width,
		Height:    req.height,
		Pixels:    pixels,
	})
	res.renderDur = time.Since(start)
	return res, true
}
