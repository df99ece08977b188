package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var eventKeys = []string{"jira:issue_created", "jira:issue_updated", "comment_created"}

func main() {
	targetURL := flag.String("url", "http://localhost:8080/webhook/jira", "Webhook endpoint to hit")
	secret := flag.String("secret", "", "Shared webhook secret (X-Webhook-Token)")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 200, "Requests per second limit")
	issues := flag.Int("issues", 500, "Size of the synthetic issue pool")
	flag.Parse()

	log.Printf("Starting load test on %s", *targetURL)
	log.Printf("Concurrency: %d, Duration: %s, RPS: %d, Issue pool: %d", *concurrency, *duration, *rps, *issues)

	var wg sync.WaitGroup
	var successCount, errorCount atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), 100) // Allow bursts up to 100

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{
				Timeout: 5 * time.Second,
			}

			for {
				select {
				case <-ctx.Done():
					return
				default:
					limiter.Wait(ctx)

					// Reuse a bounded issue pool so the pipeline exercises its
					// upsert path, not just inserts.
					n := rand.IntN(*issues)
					eventKey := eventKeys[rand.IntN(len(eventKeys))]
					payload := fmt.Sprintf(`{"webhookEvent": "%s", "issue": {"id": "%d", "key": "LOAD-%d"}}`,
						eventKey, 10000+n, n)

					req, err := http.NewRequestWithContext(ctx, http.MethodPost, *targetURL, bytes.NewBufferString(payload))
					if err != nil {
						continue
					}
					req.Header.Set("Content-Type", "application/json")
					req.Header.Set("X-Event-Key", eventKey)
					if *secret != "" {
						req.Header.Set("X-Webhook-Token", *secret)
					}

					resp, err := client.Do(req)
					if err != nil {
						errorCount.Add(1)
						continue
					}

					if resp.StatusCode == http.StatusOK {
						successCount.Add(1)
					} else {
						errorCount.Add(1)
					}
					resp.Body.Close()
				}
			}
		}()
	}

	wg.Wait()

	totalRequests := successCount.Load() + errorCount.Load()
	actualRPS := float64(totalRequests) / duration.Seconds()

	log.Println("Load test finished.")
	log.Printf("Total Requests: %d", totalRequests)
	log.Printf("Successful (200 OK): %d", successCount.Load())
	log.Printf("Errors: %d", errorCount.Load())
	log.Printf("Actual RPS: %.2f", actualRPS)
}
