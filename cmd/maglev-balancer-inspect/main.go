// main.go implements the maglev-balancer inspector CLI: it parses
// command-line flags, fetches diagnostic snapshots from one or more target
// processes exposing the balancer's debug endpoint, and prints them either
// as pretty text or JSON. Multiple targets are fetched concurrently.
//
// The target Go service is expected to expose:
//   - GET /debug/maglev/snapshot — JSON payload with node/slot/ban stats.
//
// The snapshot object is intentionally generic; we decode into
// map[string]any to avoid version skew between CLI and library.
//
// © 2025 maglev-balancer authors. MIT License.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	opts := parseFlags()

	if opts.version {
		fmt.Println(version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if opts.watch {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			if err := dumpOnce(ctx, opts); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return
			}
		}
	}

	if err := dumpOnce(ctx, opts); err != nil {
		fatal(err)
	}
}

// dumpOnce fetches every target's snapshot concurrently and prints them in
// target order once all have returned. If any fetch fails, nothing is
// printed and the first error is returned.
func dumpOnce(ctx context.Context, opts *options) error {
	snaps := make([]map[string]any, len(opts.targets))

	g, ctx := errgroup.WithContext(ctx)
	for i, target := range opts.targets {
		i, target := i, target
		g.Go(func() error {
			snap, err := fetchSnapshot(ctx, target)
			if err != nil {
				return fmt.Errorf("%s: %w", target, err)
			}
			snaps[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, target := range opts.targets {
		if opts.json {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(snaps[i]); err != nil {
				return err
			}
			continue
		}
		fmt.Printf("== %s ==\n", target)
		if err := prettyPrint(snaps[i]); err != nil {
			return err
		}
	}
	return nil
}

func fetchSnapshot(ctx context.Context, base string) (map[string]any, error) {
	url := base + "/debug/maglev/snapshot"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", res.Status)
	}
	var data map[string]any
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func prettyPrint(data map[string]any) error {
	fmt.Printf("Nodes:           %v\n", data["node_count"])
	fmt.Printf("Slot size:       %v\n", data["slot_size"])
	fmt.Printf("Banned nodes:    %v\n", data["banned_count"])
	fmt.Printf("Heartbeat count: %v\n", data["heartbeat_count"])

	nodes, _ := data["nodes"].([]any)
	sort.Slice(nodes, func(i, j int) bool {
		mi, _ := nodes[i].(map[string]any)
		mj, _ := nodes[j].(map[string]any)
		return toFloat(mi["id"]) < toFloat(mj["id"])
	})
	for _, n := range nodes {
		m, ok := n.(map[string]any)
		if !ok {
			continue
		}
		fmt.Printf("  node %-8v slots=%-8v weight=%v\n", m["id"], m["slot_count"], m["weight"])
	}
	return nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "maglev-balancer-inspect:", err)
	os.Exit(1)
}
