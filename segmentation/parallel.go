package segmentation

import (
	"runtime"
	"sync"
)

// defaultParallelThreshold is the minimum band size to use parallel evaluation.
// Below this, single-threaded is faster due to goroutine overhead.
const defaultParallelThreshold = 4096

// workChunk represents a range of band entries for a worker to evaluate.
type workChunk struct {
	start, end int
}

// evalPool holds the persistent workers used for speed evaluation.
// Workers only read the fields and write disjoint ranges of the delta slice,
// so the result does not depend on how the band is split.
type evalPool struct {
	numWorkers int
	threshold  int

	// Set before each dispatch; workers observe it through the channel send.
	ctx    *forceContext
	deltas []cellDelta

	// Worker pool channels
	workChan chan workChunk // sends work to workers
	doneChan chan struct{}  // workers signal completion
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers
	running  bool           // true if workers are running
}

// newEvalPool sizes the pool. workers <= 0 uses GOMAXPROCS; 1 evaluates serially.
func newEvalPool(workers, threshold int) *evalPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if threshold <= 0 {
		threshold = defaultParallelThreshold
	}
	return &evalPool{numWorkers: workers, threshold: threshold}
}

// startWorkers launches persistent worker goroutines.
func (p *evalPool) startWorkers() {
	if p.running {
		return
	}

	p.workChan = make(chan workChunk, p.numWorkers)
	p.doneChan = make(chan struct{}, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// stopWorkers signals all workers to exit and waits for them.
func (p *evalPool) stopWorkers() {
	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

// worker runs in a goroutine, processing chunks until stopped.
func (p *evalPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			p.ctx.evaluateRange(chunk.start, chunk.end, p.deltas)
			p.doneChan <- struct{}{}
		}
	}
}

// evaluate fills deltas for every entry in ctx, serially for small bands.
func (p *evalPool) evaluate(ctx *forceContext, deltas []cellDelta) {
	n := len(ctx.entries)
	if n == 0 {
		return
	}
	if p.numWorkers == 1 || n < p.threshold {
		ctx.evaluateRange(0, n, deltas)
		return
	}

	if !p.running {
		p.startWorkers()
	}
	p.ctx = ctx
	p.deltas = deltas

	chunkSize := (n + p.numWorkers - 1) / p.numWorkers

	// Dispatch chunks to workers
	chunksDispatched := 0
	for w := 0; w < p.numWorkers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}

		p.workChan <- workChunk{start: start, end: end}
		chunksDispatched++
	}

	// Wait for all chunks to complete
	for i := 0; i < chunksDispatched; i++ {
		<-p.doneChan
	}
	p.ctx = nil
	p.deltas = nil
}
