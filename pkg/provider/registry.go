package provider

import (
	"fmt"
	"sync"

	"github.com/reelpipe/reelpipe/pkg/security"
)

// DefaultInFlightLimit is the assumed concurrent async clip job ceiling
// for providers with no configured limit.
const DefaultInFlightLimit = 3

// Registry resolves providers by id for each role. Registration normally
// happens once at startup; lookups are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	llm      map[string]ScriptGenerator
	voice    map[string]VoiceSynthesizer
	video    map[string]ClipGenerator
	assembly map[string]Assembler
	inFlight map[string]int
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		llm:      make(map[string]ScriptGenerator),
		voice:    make(map[string]VoiceSynthesizer),
		video:    make(map[string]ClipGenerator),
		assembly: make(map[string]Assembler),
		inFlight: make(map[string]int),
	}
}

// RegisterLLM registers a script generator under an id.
func (r *Registry) RegisterLLM(id string, g ScriptGenerator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[id] = g
}

// RegisterVoice registers a voice synthesizer under an id.
func (r *Registry) RegisterVoice(id string, v VoiceSynthesizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voice[id] = v
}

// RegisterVideo registers a clip generator under an id. The in-flight
// limit caps concurrent async jobs dispatched to this provider; pass 0 to
// use DefaultInFlightLimit.
func (r *Registry) RegisterVideo(id string, g ClipGenerator, inFlightLimit int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.video[id] = g
	if inFlightLimit <= 0 {
		inFlightLimit = DefaultInFlightLimit
	}
	r.inFlight[id] = security.ClampInFlight(inFlightLimit)
}

// RegisterAssembly registers an assembler under an id.
func (r *Registry) RegisterAssembly(id string, a Assembler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assembly[id] = a
}

// LLM resolves a script generator by id.
func (r *Registry) LLM(id string) (ScriptGenerator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.llm[id]
	if !ok {
		return nil, fmt.Errorf("provider: no llm provider registered for %q", id)
	}
	return g, nil
}

// Voice resolves a voice synthesizer by id.
func (r *Registry) Voice(id string) (VoiceSynthesizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.voice[id]
	if !ok {
		return nil, fmt.Errorf("provider: no voice provider registered for %q", id)
	}
	return v, nil
}

// Video resolves a clip generator by id.
func (r *Registry) Video(id string) (ClipGenerator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.video[id]
	if !ok {
		return nil, fmt.Errorf("provider: no video provider registered for %q", id)
	}
	return g, nil
}

// Assembly resolves an assembler by id.
func (r *Registry) Assembly(id string) (Assembler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assembly[id]
	if !ok {
		return nil, fmt.Errorf("provider: no assembly provider registered for %q", id)
	}
	return a, nil
}

// InFlightLimit returns the concurrent async job ceiling for a video
// provider.
func (r *Registry) InFlightLimit(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit, ok := r.inFlight[id]; ok {
		return limit
	}
	return DefaultInFlightLimit
}
