package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/basket/quarterdeck/internal/config"
	"github.com/basket/quarterdeck/internal/cron"
	"github.com/basket/quarterdeck/internal/period"
)

// runPeriodCommand shows the active period, or switches the running service
// to the given key after confirmation of the form.
func runPeriodCommand(ctx context.Context, args []string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	if len(args) == 0 {
		body, status, err := apiGet(ctx, cfg, "/api/status")
		if err != nil {
			// Service not running: report the calendar quarter instead.
			key := period.Current(time.Now())
			fmt.Printf("%s (%s) — service not running\n", key, key.Display())
			printNextBoundary()
			return 0
		}
		if status != http.StatusOK {
			fmt.Fprintf(os.Stderr, "status %d: %s\n", status, strings.TrimSpace(string(body)))
			return 1
		}
		var payload struct {
			Period string `json:"period"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			fmt.Fprintf(os.Stderr, "decode: %v\n", err)
			return 1
		}
		key := period.Key(payload.Period)
		fmt.Printf("%s (%s)\n", key, key.Display())
		printNextBoundary()
		return 0
	}

	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: quarterdeck period [key]")
		return 2
	}
	key, err := period.Parse(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	body, status, err := apiPut(ctx, cfg, "/api/period", map[string]string{"period": key.String()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "period: %v\n", err)
		return 1
	}
	if status != http.StatusOK {
		fmt.Fprintf(os.Stderr, "status %d: %s\n", status, strings.TrimSpace(string(body)))
		return 1
	}
	fmt.Printf("switched to %s (%s)\n", key, key.Display())
	return 0
}

func printNextBoundary() {
	if boundary, err := cron.NextBoundary(time.Now()); err == nil {
		fmt.Printf("next quarter starts %s\n", boundary.Format("2006-01-02"))
	}
}

func apiPut(ctx context.Context, cfg config.Config, path string, payload any) ([]byte, int, error) {
	addr := strings.TrimSpace(cfg.BindAddr)
	if addr == "" {
		addr = "127.0.0.1:18990"
	}
	if host, port, err := net.SplitHostPort(addr); err == nil {
		addr = net.JoinHostPort(host, port)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPut, "http://"+addr+path, bytes.NewReader(raw))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := bearerToken(cfg); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return buf.Bytes(), resp.StatusCode, nil
}
