package pipeline

import "sync"

// speechFloor arbitrates the audio floor between bot playback and user
// speech. A final user transcript arriving while bot audio is playing takes
// the floor, and the output stage cuts the rest of the current utterance
// (barge-in).
type speechFloor struct {
	mu         sync.Mutex
	playing    bool
	generation uint64
}

// userSpoke records user speech and reports whether it landed mid-playback.
func (f *speechFloor) userSpoke() (bargeIn bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generation++
	return f.playing
}

// beginPlayback marks the floor taken by bot audio and returns the speech
// generation the playback belongs to.
func (f *speechFloor) beginPlayback() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = true
	return f.generation
}

// interrupted reports whether user speech arrived after gen was taken.
func (f *speechFloor) interrupted(gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generation != gen
}

func (f *speechFloor) endPlayback() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = false
}
