package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it when a consumer stops early but the producer must still be allowed
// to finish sending and close ch.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
