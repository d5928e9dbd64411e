// Command receiver is a mock webhook endpoint server for exercising the
// delivery engine end to end: a healthy endpoint, a flaky one, a slow one
// and one that always fails.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var requestCount atomic.Int64

func main() {
	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}

	// Always returns 200
	http.HandleFunc("/webhook/success", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		logRequest(r, count, 200)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "received"})
	})

	// Fails twice per event, then succeeds; exercises the retry path
	var flakyMu sync.Mutex
	flakySeen := make(map[string]int)

	http.HandleFunc("/webhook/flaky", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		eventID := r.Header.Get("X-Webhook-Event-Id")

		flakyMu.Lock()
		flakySeen[eventID]++
		attempts := flakySeen[eventID]
		flakyMu.Unlock()

		status := http.StatusInternalServerError
		if attempts > 2 {
			status = http.StatusOK
		}
		logRequest(r, count, status)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{"status": status, "attempts_seen": attempts})
	})

	// Delays 3 seconds before responding
	http.HandleFunc("/webhook/slow", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		time.Sleep(3 * time.Second)
		logRequest(r, count, 200)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "received (slow)"})
	})

	// Always returns 500
	http.HandleFunc("/webhook/fail", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		logRequest(r, count, 500)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
	})

	// Request counter
	http.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{"total_requests": requestCount.Load()})
	})

	log.Printf("Mock receiver starting on :%s", port)
	log.Printf("  POST /webhook/success  -> 200 OK")
	log.Printf("  POST /webhook/flaky    -> 500 twice, then 200")
	log.Printf("  POST /webhook/slow     -> 200 OK (3s delay)")
	log.Printf("  POST /webhook/fail     -> 500 Error")
	log.Printf("  GET  /stats            -> request count")

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func logRequest(r *http.Request, count int64, status int) {
	fmt.Printf("[#%d] %s %s -> %d | sig=%s event=%s id=%s attempt=%s\n",
		count,
		r.Method,
		r.URL.Path,
		status,
		truncate(r.Header.Get("X-Webhook-Signature"), 16),
		r.Header.Get("X-Webhook-Event"),
		truncate(r.Header.Get("X-Webhook-Event-Id"), 8),
		r.Header.Get("X-Webhook-Attempt"),
	)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
