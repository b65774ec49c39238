package audio

// Drain reads from ch until the channel is closed, discarding all values.
// It keeps a producer goroutine from blocking after its consumer has gone.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
