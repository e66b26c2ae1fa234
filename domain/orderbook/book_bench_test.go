package orderbook

import (
	"math/rand"
	"testing"
)

func BenchmarkPlace(b *testing.B) {
	book := New()
	rng := rand.New(rand.NewSource(42))
	cb := Funcs{}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		side := Side(rng.Intn(2))
		price := int64(9_950 + rng.Intn(100))
		if rng.Intn(5) == 0 {
			price = 0
		}
		if _, err := book.Place(int64(i), side, int64(rng.Intn(5)+1), price, cb, nil); err != nil {
			b.Fatal(err)
		}
	}
}
