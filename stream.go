package generic_control_toolbox

import "sync"

// WrenchStream delivers raw force/torque samples to subscribers at
// sensor-driven cadence. Subscribe returns an unsubscribe func.
type WrenchStream interface {
	Subscribe(topic string, fn func(sample WrenchSample)) (func(), error)
}

// ProcessedWrenchPublisher receives gripping-point wrenches whenever one is
// queried, for observability; it is never a control input.
type ProcessedWrenchPublisher interface {
	PublishWrench(frame string, w Wrench)
}

// FanoutWrenchStream is an in-process WrenchStream: sensor adapters (or
// tests) push samples with Publish and every subscriber on that topic
// receives them synchronously.
type FanoutWrenchStream struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(WrenchSample)
}

func NewFanoutWrenchStream() *FanoutWrenchStream {
	return &FanoutWrenchStream{subs: make(map[string]map[int]func(WrenchSample))}
}

func (f *FanoutWrenchStream) Subscribe(topic string, fn func(WrenchSample)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subs[topic] == nil {
		f.subs[topic] = make(map[int]func(WrenchSample))
	}
	id := f.nextID
	f.nextID++
	f.subs[topic][id] = fn

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[topic], id)
	}, nil
}

// Publish fans sample out to all current subscribers of topic.
func (f *FanoutWrenchStream) Publish(topic string, sample WrenchSample) {
	f.mu.RLock()
	fns := make([]func(WrenchSample), 0, len(f.subs[topic]))
	for _, fn := range f.subs[topic] {
		fns = append(fns, fn)
	}
	f.mu.RUnlock()

	for _, fn := range fns {
		fn(sample)
	}
}
