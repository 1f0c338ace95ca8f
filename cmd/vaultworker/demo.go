package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/jzx17/vaultworker/pkg/adapters"
	"github.com/jzx17/vaultworker/pkg/filecodec"
	"github.com/jzx17/vaultworker/pkg/searchindex"
	"github.com/jzx17/vaultworker/pkg/types"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a sample workload through every worker type",
	Long: `demo derives a key, encrypts and decrypts an item on both paths, indexes and
queries a small vault, and chunks an attachment. Every step prints which path served it.`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().Int("attachment-size", 2<<20, "Size in bytes of the demo attachment")
	demoCmd.Flags().Duration("timeout", time.Minute, "Overall demo timeout")
}

func searchIndex() adapters.SearchIndex {
	return searchindex.New()
}

func runDemo(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	size, _ := cmd.Flags().GetInt("attachment-size")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	step := func(name string, rep adapters.Report) {
		path := "local"
		switch {
		case rep.Cached:
			path = "cache"
		case rep.WorkerUsed:
			path = "worker"
		}
		line := fmt.Sprintf("%-22s %-7s %10s", name, path, rep.Duration.Round(time.Microsecond))
		if rep.FallbackReason != "" {
			line += " fallback=" + rep.FallbackReason
		}
		fmt.Fprintln(out, line)
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	key, rep, err := rt.encryption.DeriveKey(ctx, []byte("correct horse battery staple"), salt)
	if err != nil {
		return fmt.Errorf("derive key: %w", err)
	}
	step("derive key", rep)

	secret := []byte(`{"username":"alice","password":"s3cr3t"}`)
	for _, route := range []adapters.Route{adapters.RouteWorker, adapters.RouteLocal} {
		env, rep, err := rt.encryption.Encrypt(ctx, secret, key, []byte("item-1"), adapters.UseRoute(route))
		if err != nil {
			return fmt.Errorf("encrypt: %w", err)
		}
		step("encrypt/"+route.String(), rep)
		plain, rep, err := rt.encryption.Decrypt(ctx, env, key, []byte("item-1"), adapters.UseRoute(route))
		if err != nil {
			return fmt.Errorf("decrypt: %w", err)
		}
		if !bytes.Equal(plain, secret) {
			return fmt.Errorf("decrypt/%s returned different plaintext", route)
		}
		step("decrypt/"+route.String(), rep)
	}

	_, rep, err = rt.search.Index(ctx, sampleItems())
	if err != nil {
		return err
	}
	step("index", rep)
	for _, q := range []searchindex.Criteria{{Text: "mail"}, {Text: "bnak", Fuzzy: true}, {Text: "mail"}} {
		hits, rep, err := rt.search.Query(ctx, q, adapters.UseRoute(adapters.RouteWorker))
		if err != nil {
			return err
		}
		step(fmt.Sprintf("query %q (%d hits)", q.Text, len(hits)), rep)
	}

	attachment := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, attachment[:size/4]); err != nil {
		return err
	}
	chunks, rep, err := rt.files.Chunk(ctx, attachment, filecodec.DefaultConfig(), adapters.WithPriority(types.PriorityHigh))
	if err != nil {
		return fmt.Errorf("chunk: %w", err)
	}
	step(fmt.Sprintf("chunk (%d chunks)", len(chunks)), rep)
	joined, rep, err := rt.files.Assemble(ctx, chunks)
	if err != nil {
		return fmt.Errorf("assemble: %w", err)
	}
	if !bytes.Equal(joined, attachment) {
		return fmt.Errorf("assembled attachment differs from the original")
	}
	step("assemble", rep)

	fmt.Fprintln(out)
	printStats(out, rt)
	return nil
}

func printStats(out io.Writer, rt *app) {
	stats := rt.orch.Stats()
	wts := make([]types.WorkerType, 0, len(stats))
	for wt := range stats {
		wts = append(wts, wt)
	}
	sort.Slice(wts, func(i, j int) bool { return wts[i] < wts[j] })

	fmt.Fprintf(out, "%-15s %-10s %6s %6s %6s %8s %12s\n", "WORKER", "STATE", "TOTAL", "OK", "FAILED", "RETRIES", "AVG LATENCY")
	for _, wt := range wts {
		s := stats[wt]
		fmt.Fprintf(out, "%-15s %-10s %6d %6d %6d %8d %12s\n",
			wt, s.State, s.Metrics.Total, s.Metrics.Succeeded, s.Metrics.Failed, s.Metrics.Retries,
			s.Metrics.AvgLatency.Round(time.Microsecond))
	}
}

func sampleItems() []searchindex.Item {
	return []searchindex.Item{
		{ID: "1", Title: "Personal mail", Username: "alice", URL: "https://mail.example.com", Tags: []string{"personal"}},
		{ID: "2", Title: "Bank", Username: "alice.smith", URL: "https://bank.example.com", Tags: []string{"finance"}},
		{ID: "3", Title: "Work mail", Username: "asmith", URL: "https://mail.corp.example", Tags: []string{"work"}},
		{ID: "4", Title: "Router", Username: "admin", URL: "http://192.168.1.1", Tags: []string{"home"}},
	}
}
