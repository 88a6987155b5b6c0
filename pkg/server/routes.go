package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// sessionMintURL is where ephemeral client tokens are minted.
const sessionMintURL = "https://api.openai.com/v1/realtime/sessions"

func writeCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth reports liveness and the active relay count.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeCORSHeaders(w)
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": s.RelayCount(),
	})
}

// handleSearch runs a document search outside any voice session. Useful for
// debugging the knowledge base and for text-only clients.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	writeCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing query"})
		return
	}

	result, err := s.retriever.Search(r.Context(), req.Query)
	if err != nil {
		log.Printf("[server] search failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "search failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"context": result})
}

// handleSessionToken mints an ephemeral upstream token so browser clients
// can connect to the realtime API directly, without the relay. The server
// API key never reaches the browser.
func (s *Server) handleSessionToken(w http.ResponseWriter, r *http.Request) {
	writeCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.cfg.APIKey == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no upstream API key configured"})
		return
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"model": s.cfg.RealtimeModel,
		"voice": s.agentCfg.Voice,
	})

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, sessionMintURL, strings.NewReader(string(payload)))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to build token request"})
		return
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OpenAI-Beta", "realtime=v1")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.Printf("[server] token mint failed: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "token mint failed"})
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "token mint failed"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}
