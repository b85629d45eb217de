package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/micpipe/pkg/audio"
)

func TestDrain_UnblocksProducer(t *testing.T) {
	ch := make(chan int)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 5 {
			ch <- i
		}
		close(ch)
	}()

	audio.Drain(ch)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after Drain returned")
	}
}
