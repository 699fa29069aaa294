package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when you stop consuming a synthesis
// stream early (for example after the output device failed).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
