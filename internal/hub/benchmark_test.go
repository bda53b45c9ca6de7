package hub

import (
	"fmt"
	"testing"

	"github.com/atikulmunna/warden/internal/model"
)

func BenchmarkPublish(b *testing.B) {
	for _, n := range []int{1, 4, 16} {
		b.Run(fmt.Sprintf("subscribers=%d", n), func(b *testing.B) {
			h := New(nil)
			for i := 0; i < n; i++ {
				ch, _ := h.Subscribe()
				go func() {
					for range ch {
					}
				}()
			}
			ev := model.Event{ID: "bench", URL: "/index.html"}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				h.Publish(ev)
			}
			b.StopTimer()
			h.Close()
		})
	}
}
