package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tiagocmendes/restaurant-p2p/internal/restaurant"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "drive-through address")
	n := flag.Int("n", 100, "orders")
	conc := flag.Int("c", 8, "concurrency")
	pickup := flag.Bool("pickup", true, "also pick every order up")
	timeout := flag.Duration("timeout", 2*time.Minute, "per request timeout")
	flag.Parse()

	client := restaurant.NewClient(*addr, *timeout)
	wg := sync.WaitGroup{}
	start := time.Now()
	ch := make(chan int, *conc)

	var failed atomic.Int64
	var mu sync.Mutex
	var latencies []time.Duration

	for i := 0; i < *n; i++ {
		wg.Add(1)
		ch <- 1
		go func(i int) {
			defer wg.Done()
			defer func() { <-ch }()

			r := rand.New(rand.NewPCG(uint64(i), 42))
			t0 := time.Now()
			ctx := context.Background()
			tk, err := client.PlaceOrder(ctx, restaurant.RandomOrder(r))
			if err == nil && *pickup {
				_, err = client.Pickup(ctx, tk.Ticket)
			}
			if err != nil {
				failed.Add(1)
				return
			}
			mu.Lock()
			latencies = append(latencies, time.Since(t0))
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	dur := time.Since(start)

	fmt.Printf("Completed %d orders (%d failed) in %s (%.2f orders/s)\n",
		*n, failed.Load(), dur, float64(*n)/dur.Seconds())
	if len(latencies) > 0 {
		sort.Slice(latencies, func(a, b int) bool { return latencies[a] < latencies[b] })
		fmt.Printf("latency p50=%s p95=%s max=%s\n",
			latencies[len(latencies)/2], latencies[len(latencies)*95/100], latencies[len(latencies)-1])
	}
}
