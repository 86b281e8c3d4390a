package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexflint/go-arg"

	"github.com/sweater-ventures/spigot/app"
)

type SendCmd struct {
	URL            string `arg:"--url,required" help:"Spigot base URL"`
	SubscriptionID string `arg:"--subscription-id,required" help:"Subscription UUID to ingest against"`
	Secret         string `arg:"--secret" help:"Subscription secret; payloads are HMAC-signed when set"`
	EventType      string `arg:"--event-type" help:"Optional X-Event-Type header value"`
	Rate           int    `arg:"--rate" default:"10" help:"Payloads per second"`
	Count          int    `arg:"--count" default:"100" help:"Total payloads to send"`
	Workers        int    `arg:"--workers" default:"1" help:"Number of concurrent sender goroutines"`
}

type ReceiveCmd struct {
	Listen   string        `arg:"--listen" default:":9090" help:"Local listen address"`
	Status   int           `arg:"--status" default:"200" help:"HTTP status to answer deliveries with"`
	Duration time.Duration `arg:"--duration" default:"30s" help:"How long to listen"`
}

type args struct {
	Send    *SendCmd    `arg:"subcommand:send" help:"Send webhook payloads to Spigot"`
	Receive *ReceiveCmd `arg:"subcommand:receive" help:"Run a local delivery target and count what arrives"`
}

func (args) Description() string {
	return "spout - load and verification tool for Spigot"
}

func main() {
	var cfg args
	parser := arg.MustParse(&cfg)

	switch {
	case cfg.Send != nil:
		runSend(cfg.Send)
	case cfg.Receive != nil:
		runReceive(cfg.Receive)
	default:
		parser.WriteHelp(os.Stdout)
		os.Exit(1)
	}
}

func runSend(cmd *SendCmd) {
	endpoint := fmt.Sprintf("%s/api/v1/ingest/%s", cmd.URL, cmd.SubscriptionID)
	interval := time.Second / time.Duration(cmd.Rate*cmd.Workers)
	client := &http.Client{Timeout: 10 * time.Second}

	var sent, accepted, rejected atomic.Int64
	var wg sync.WaitGroup

	perWorker := cmd.Count / cmd.Workers
	start := time.Now()

	for i := 0; i < cmd.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for n := 0; n < perWorker; n++ {
				<-ticker.C
				seq := sent.Add(1)
				body, _ := json.Marshal(map[string]any{
					"sequence": seq,
					"worker":   worker,
					"sent_at":  time.Now().UTC().Format(time.RFC3339Nano),
				})

				req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
				if err != nil {
					fmt.Fprintf(os.Stderr, "building request: %v\n", err)
					continue
				}
				req.Header.Set("Content-Type", "application/json")
				if cmd.EventType != "" {
					req.Header.Set("X-Event-Type", cmd.EventType)
				}
				if cmd.Secret != "" {
					req.Header.Set("X-Webhook-Signature", app.ComputeSignature(body, cmd.Secret))
				}

				resp, err := client.Do(req)
				if err != nil {
					rejected.Add(1)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				if resp.StatusCode == http.StatusAccepted {
					accepted.Add(1)
				} else {
					rejected.Add(1)
					fmt.Fprintf(os.Stderr, "unexpected status %d\n", resp.StatusCode)
				}
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)
	fmt.Printf("sent=%d accepted=%d rejected=%d in %s (%.1f/s)\n",
		sent.Load(), accepted.Load(), rejected.Load(), elapsed.Round(time.Millisecond),
		float64(sent.Load())/elapsed.Seconds())
}

func runReceive(cmd *ReceiveCmd) {
	var mu sync.Mutex
	var latencies []time.Duration
	var received atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received.Add(1)

		var payload struct {
			SentAt string `json:"sent_at"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.SentAt != "" {
			if sentAt, err := time.Parse(time.RFC3339Nano, payload.SentAt); err == nil {
				mu.Lock()
				latencies = append(latencies, time.Since(sentAt))
				mu.Unlock()
			}
		}
		w.WriteHeader(cmd.Status)
	})

	srv := &http.Server{Addr: cmd.Listen, Handler: mux}
	go srv.ListenAndServe()
	fmt.Printf("listening on %s for %s, answering %d\n", cmd.Listen, cmd.Duration, cmd.Status)

	time.Sleep(cmd.Duration)
	srv.Close()

	fmt.Printf("received=%d\n", received.Load())
	mu.Lock()
	defer mu.Unlock()
	if len(latencies) == 0 {
		return
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	fmt.Printf("latency p50=%s p95=%s max=%s\n",
		latencies[len(latencies)/2].Round(time.Millisecond),
		latencies[len(latencies)*95/100].Round(time.Millisecond),
		latencies[len(latencies)-1].Round(time.Millisecond))
}
