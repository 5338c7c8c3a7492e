package audio

// Drain reads from ch until the channel is closed, discarding all values.
// [Source.Stop] uses it to clear stale chunks once the producer has closed
// the queue, so a subsequent session never observes them.
func Drain[T any](ch <-chan T) int {
	n := 0
	for range ch {
		n++
	}
	return n
}
