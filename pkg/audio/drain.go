package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when you don't need the data from a
// streaming channel (e.g., a synthesis stream abandoned mid-turn).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

// Collect reads from ch until the channel is closed and returns every value
// in arrival order.
func Collect[T any](ch <-chan T) []T {
	var out []T
	for v := range ch {
		out = append(out, v)
	}
	return out
}
