package queue

import (
	"context"
	"hash/fnv"
	"sync"
)

const (
	defaultWorkers = 8
	channelBuffer  = 256
)

// Dispatcher routes items to a fixed set of workers using consistent hashing
// on a key, guaranteeing per-key ordering while different keys proceed in
// parallel.
type Dispatcher[T any] struct {
	workers []chan T
	key     func(T) string
	handle  func(context.Context, T)
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher[T any](numWorkers int, key func(T) string, handle func(context.Context, T)) *Dispatcher[T] {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher[T]{
		workers: make([]chan T, numWorkers),
		key:     key,
		handle:  handle,
	}
	for i := range d.workers {
		d.workers[i] = make(chan T, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled;
// items still buffered at that point are dropped.
func (d *Dispatcher[T]) Start(ctx context.Context) {
	for _, ch := range d.workers {
		d.wg.Add(1)
		go d.runWorker(ctx, ch)
	}
}

// Wait blocks until every worker has returned.
func (d *Dispatcher[T]) Wait() { d.wg.Wait() }

// Enqueue hands item to the worker responsible for its key. It blocks while
// that worker's buffer is full and gives up when ctx ends.
func (d *Dispatcher[T]) Enqueue(ctx context.Context, item T) error {
	select {
	case d.workers[d.shardIndex(d.key(item))] <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shardIndex maps a key deterministically to a worker index.
func (d *Dispatcher[T]) shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher[T]) runWorker(ctx context.Context, ch <-chan T) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-ch:
			d.handle(ctx, item)
		}
	}
}
