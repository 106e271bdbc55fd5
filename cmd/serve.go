// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/spf13/cobra"

	"github.com/lixql/lixql/internal/config"
)

func statusHandler(w http.ResponseWriter, r *http.Request) {
	var wg sync.WaitGroup
	wg.Add(1)

	buf := new(bytes.Buffer)

	go func() {
		status, err := getStatus()
		if err != nil {
			json.NewEncoder(buf).Encode(map[string]string{"error": err.Error()})
		} else {
			buf.Write(status)
		}
		wg.Done()
	}()

	wg.Wait()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func getStatus() ([]byte, error) {
	return json.Marshal(map[string]any{
		"dialect":           config.Dialect().String(),
		"max_history_depth": config.MaxHistoryDepth(),
		"helper_cache_size": config.HelperCacheSize(),
		"writer_key":        config.WriterKey(),
	})
}

func rewriteHandler(w http.ResponseWriter, r *http.Request) {
	schemaKey := r.URL.Query().Get("schema_key")
	versionID := r.URL.Query().Get("version_id")
	if versionID == "" {
		versionID = "main"
	}
	untracked := r.URL.Query().Get("untracked") == "true"

	if schemaKey == "" {
		http.Error(w, "schema_key query parameter is required", http.StatusBadRequest)
		return
	}

	result, err := rewriteFromReader(r.Body, schemaKey, versionID, untracked)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toRendered(result.Statements, config.Dialect()))
}

func queryHandler(w http.ResponseWriter, r *http.Request) {
	expanded, err := expandFromReader(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"sql": expanded})
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve [port]",
		Short: "Start a server exposing the rewrite engine over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			port := ":8080"
			if len(args) > 0 {
				port = fmt.Sprintf(":%s", args[0])
			}

			mux := http.NewServeMux()
			mux.HandleFunc("/status", statusHandler)
			mux.HandleFunc("/rewrite", rewriteHandler)
			mux.HandleFunc("/query", queryHandler)

			srv := &http.Server{
				Addr:    port,
				Handler: mux,
			}

			log.Printf("Starting server on %s\n", port)
			if err := srv.ListenAndServe(); err != nil {
				log.Fatal("Error starting server: ", err)
			}

			return nil
		},
	}
}
