// lbprobe faz o papel do balanceador: conecta no socket de controle, executa
// handshakes e imprime a whitelist lida do artefato.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"admission-sidecar/internal/logging"
	"admission-sidecar/sidecar/admission"
	"admission-sidecar/sidecar/admission/domain"
)

func main() {
	addr := pflag.String("addr", getenvDefault("SMARTDROP_LISTEN_ADDR", "localhost:8080"), "Sidecar control socket.")
	artifact := pflag.String("artifact", getenvDefault("SMARTDROP_ARTIFACT", "/Whitelist/whitelist.csv"), "Whitelist file written by the sidecar.")
	cycles := pflag.Int("cycles", 1, "Handshakes to run (0 = until interrupted).")
	interval := pflag.Duration("interval", time.Second, "Pause between handshakes.")
	timeout := pflag.Duration("timeout", 5*time.Second, "Timeout for each byte exchange.")
	pflag.Parse()

	logger, syncLogs, err := logging.New("info", true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(2)
	}
	defer syncLogs()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := admission.Dial(ctx, *addr)
	if err != nil {
		logger.Error(err, "connect failed")
		syncLogs()
		os.Exit(1)
	}
	defer client.Close()
	client.Timeout = *timeout

	for i := 0; *cycles == 0 || i < *cycles; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(*interval):
			}
		}
		start := time.Now()
		entries, err := client.Fetch(*artifact)
		if err != nil {
			logger.Error(err, "handshake failed", "cycle", i+1)
			syncLogs()
			os.Exit(1)
		}
		logger.Info("whitelist fetched", "cycle", i+1, "tasks", len(entries), "elapsed", time.Since(start).String())
		printEntries(entries)
	}
}

func printEntries(entries map[domain.TaskKey][]domain.ServerID) {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		ids := make([]string, 0, len(entries[domain.TaskKey(k)]))
		for _, s := range entries[domain.TaskKey(k)] {
			ids = append(ids, string(s))
		}
		servers := strings.Join(ids, " ")
		if servers == "" {
			servers = "(none)"
		}
		fmt.Printf("%-40s %s\n", k, servers)
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
