package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iamanmiglani/Image-to-text/v1/config"
	"github.com/iamanmiglani/Image-to-text/v1/presets"
	"github.com/iamanmiglani/Image-to-text/v1/turn"
)

var (
	concurrency = flag.Int("c", 50, "Number of concurrent participants")
	duration    = flag.Duration("d", 10*time.Second, "How long to run")
	hold        = flag.Duration("hold", time.Millisecond, "How long a participant keeps the turn")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	log.Printf("Starting turn benchmark: %d participants for %v on the %s backend (queue=%v)",
		*concurrency, *duration, cfg.Backend, cfg.QueueEnabled)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	stack, err := presets.Build(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("build backend: %v", err)
	}
	defer stack.Close()
	coord := stack.Coordinator(cfg, nil)

	var (
		wg         sync.WaitGroup
		polls      int64
		turns      int64
		errorsSeen int64
		inside     int64
		violations int64
	)

	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		p := fmt.Sprintf("bench-%03d", i)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				st, err := coord.Poll(ctx, p)
				atomic.AddInt64(&polls, 1)
				if err != nil {
					atomic.AddInt64(&errorsSeen, 1)
					continue
				}
				if st.Decision != turn.Proceed {
					continue
				}
				if atomic.AddInt64(&inside, 1) > 1 {
					atomic.AddInt64(&violations, 1)
				}
				time.Sleep(*hold)
				atomic.AddInt64(&inside, -1)
				atomic.AddInt64(&turns, 1)
				if err := coord.Complete(context.Background(), p); err != nil {
					atomic.AddInt64(&errorsSeen, 1)
				}
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	log.Printf("Finished in %v", elapsed)
	log.Printf("Polls: %d (%.2f/s)", polls, float64(polls)/elapsed.Seconds())
	log.Printf("Turns: %d (%.2f/s)", turns, float64(turns)/elapsed.Seconds())
	if errorsSeen > 0 {
		log.Printf("Errors: %d", errorsSeen)
	}
	if violations > 0 {
		log.Fatalf("Mutual exclusion violated %d times", violations)
	}
}
