// Package cluster scatter-gathers diagnostics across every pipeline
// process in a deployment, for operators running more than one
// instance behind a load balancer. Adapted from the teacher's
// internal/cluster, which fanned out log search/histogram/stats
// queries to data nodes over HTTP; the same goroutine-per-node,
// mutex-guarded-merge shape now fans out admin diagnostics reads
// instead.
package cluster

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coffersTech/logpipe/internal/diagnostics"
)

// Aggregator fans diagnostics reads out to every peer process's admin
// API and merges the results.
type Aggregator struct {
	Peers  []string
	Client *http.Client
}

// NewAggregator builds an Aggregator over the given peer admin API base
// URLs (e.g. "http://10.0.1.4:9090").
func NewAggregator(peers []string) *Aggregator {
	return &Aggregator{
		Peers:  peers,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// PruningSummary merges the per-table pruning_summary map from every
// peer, keeping the entry with the most recent LastPrunedTimestamp for
// each table.
func (a *Aggregator) PruningSummary(auth string) (map[string]diagnostics.PruningEntry, error) {
	merged := make(map[string]diagnostics.PruningEntry)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, peer := range a.Peers {
		wg.Add(1)
		go func(base string) {
			defer wg.Done()
			url := fmt.Sprintf("%s/admin/diagnostics/pruning", base)
			req, err := http.NewRequest(http.MethodGet, url, nil)
			if err != nil {
				return
			}
			if auth != "" {
				req.Header.Set("Authorization", auth)
			}

			resp, err := a.Client.Do(req)
			if err != nil {
				log.Printf("[cluster] error from peer %s: %v", base, err)
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				log.Printf("[cluster] peer %s returned status %d", base, resp.StatusCode)
				return
			}
			var peerSummary map[string]diagnostics.PruningEntry
			if err := json.NewDecoder(resp.Body).Decode(&peerSummary); err != nil {
				return
			}

			mu.Lock()
			for table, entry := range peerSummary {
				if existing, ok := merged[table]; !ok || entry.LastPrunedTimestamp > existing.LastPrunedTimestamp {
					merged[table] = entry
				}
			}
			mu.Unlock()
		}(peer)
	}
	wg.Wait()

	return merged, nil
}

// DeadLetterEntries fans a query out to every peer's /admin/deadletter
// and concatenates the results, newest first.
func (a *Aggregator) DeadLetterEntries(q, auth string) ([]map[string]any, error) {
	var all []map[string]any
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, peer := range a.Peers {
		wg.Add(1)
		go func(base string) {
			defer wg.Done()
			url := fmt.Sprintf("%s/admin/deadletter?q=%s", base, q)
			req, err := http.NewRequest(http.MethodGet, url, nil)
			if err != nil {
				return
			}
			if auth != "" {
				req.Header.Set("Authorization", auth)
			}

			resp, err := a.Client.Do(req)
			if err != nil {
				log.Printf("[cluster] error from peer %s: %v", base, err)
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return
			}
			var entries []map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
				return
			}

			mu.Lock()
			all = append(all, entries...)
			mu.Unlock()
		}(peer)
	}
	wg.Wait()

	sort.Slice(all, func(i, j int) bool {
		ti, _ := all[i]["timestamp"].(string)
		tj, _ := all[j]["timestamp"].(string)
		return ti > tj
	})
	return all, nil
}
