package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
)

// Behaviour knobs, read from the environment:
//
//	FAKE_LLAMA_HEALTH=never      /health always answers 503
//	FAKE_LLAMA_HEALTH=hang       /health accepts and never answers
//	FAKE_LLAMA_EXIT=<code>       exit immediately with code
//	FAKE_LLAMA_IGNORE_TERM=1     ignore SIGTERM (forces a kill)
//	FAKE_LLAMA_SLOTS=<json>      body served on /slots
//	FAKE_LLAMA_DIE_AFTER=<dur>   exit 1 after the duration
func main() {
	var model, host string
	var port, ngl, ctxSize int
	flag.StringVar(&model, "m", "", "model path")
	flag.StringVar(&host, "host", "127.0.0.1", "host")
	flag.IntVar(&port, "port", 0, "port")
	flag.IntVar(&ngl, "ngl", 0, "gpu layers")
	flag.IntVar(&ctxSize, "ctx-size", 0, "context size")
	flag.Parse()

	if code := os.Getenv("FAKE_LLAMA_EXIT"); code != "" {
		n, _ := strconv.Atoi(code)
		fmt.Fprintln(os.Stderr, "fake llama-server: failing on purpose")
		os.Exit(n)
	}
	if model == "" {
		fmt.Fprintln(os.Stderr, "missing -m")
		os.Exit(2)
	}

	slots := os.Getenv("FAKE_LLAMA_SLOTS")
	if slots == "" {
		slots = `[{"id":0,"is_processing":false}]`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if os.Getenv("FAKE_LLAMA_HEALTH") == "hang" {
			<-r.Context().Done()
			return
		}
		if os.Getenv("FAKE_LLAMA_HEALTH") == "never" {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"loading model"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/slots", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(slots))
	})

	srv := &http.Server{Addr: fmt.Sprintf("%s:%d", host, port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	if d, err := time.ParseDuration(os.Getenv("FAKE_LLAMA_DIE_AFTER")); err == nil {
		go func() {
			time.Sleep(d)
			os.Exit(1)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	if os.Getenv("FAKE_LLAMA_IGNORE_TERM") == "1" {
		signal.Ignore(syscall.SIGTERM)
		signal.Notify(sigCh, syscall.SIGINT)
	} else {
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	}
	<-sigCh
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
