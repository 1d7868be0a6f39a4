// Package tileproxy runs a localhost HTTP server that fronts the remotely
// rendered analysis tile layers. The map UI always loads overlay rasters
// from this single local origin; upstream Earth Engine tile URLs are
// registered per layer and proxied with an in-memory LRU cache.
package tileproxy

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultCacheTiles bounds the number of cached tile images
	DefaultCacheTiles = 512

	upstreamTimeout = 20 * time.Second
)

// Server proxies overlay tiles from registered upstream templates
type Server struct {
	mu        sync.RWMutex
	upstreams map[string]string // layer key -> URL template with {z}/{x}/{y}
	cache     *lru.Cache[string, []byte]

	httpClient *http.Client
	baseURL    string
	server     *http.Server
}

// NewServer creates an unstarted tile proxy
func NewServer(cacheTiles int) *Server {
	if cacheTiles <= 0 {
		cacheTiles = DefaultCacheTiles
	}
	cache, _ := lru.New[string, []byte](cacheTiles)

	return &Server{
		upstreams: make(map[string]string),
		cache:     cache,
		httpClient: &http.Client{
			Timeout:   upstreamTimeout,
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		},
	}
}

// BaseURL returns the local origin the UI should load tiles from, empty
// until the server has started
func (s *Server) BaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseURL
}

// Register maps a layer key to its upstream tile URL template and returns
// the local URL template the map UI should use. The server must be started
// first so the local origin is known.
func (s *Server) Register(key, upstreamTemplate string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.baseURL == "" {
		return "", fmt.Errorf("tile proxy not started")
	}

	s.upstreams[key] = upstreamTemplate
	return fmt.Sprintf("%s/overlay/%s/{z}/{x}/{y}", s.baseURL, key), nil
}

// Unregister drops a layer key and evicts its cached tiles
func (s *Server) Unregister(key string) {
	s.mu.Lock()
	delete(s.upstreams, key)
	s.mu.Unlock()

	prefix := key + "/"
	for _, cached := range s.cache.Keys() {
		if strings.HasPrefix(cached, prefix) {
			s.cache.Remove(cached)
		}
	}
}

// corsMiddleware adds CORS headers so the wails:// origin can load tiles
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start listens on a random localhost port and serves tiles in background
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/overlay/", s.handleTile)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to start tile proxy: %w", err)
	}

	port := listener.Addr().(*net.TCPAddr).Port

	s.mu.Lock()
	s.baseURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	s.mu.Unlock()

	log.Printf("[TileProxy] Serving overlay tiles on %s", s.BaseURL())

	server := &http.Server{Handler: corsMiddleware(mux)}
	s.server = server

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[TileProxy] Server stopped: %v", err)
		}
	}()

	return nil
}

// Close stops the proxy server and its listener
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.server.Close()
}

// handleTile serves /overlay/{key}/{z}/{x}/{y}
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/overlay/")
	parts := strings.Split(rest, "/")
	if len(parts) < 4 {
		http.Error(w, "bad tile path", http.StatusBadRequest)
		return
	}

	z, x, y := parts[len(parts)-3], parts[len(parts)-2], parts[len(parts)-1]
	key := strings.Join(parts[:len(parts)-3], "/")

	s.mu.RLock()
	template, ok := s.upstreams[key]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown overlay layer", http.StatusNotFound)
		return
	}

	cacheKey := fmt.Sprintf("%s/%s/%s/%s", key, z, x, y)
	if data, hit := s.cache.Get(cacheKey); hit {
		writeTile(w, data)
		return
	}

	upstream := template
	upstream = strings.Replace(upstream, "{z}", z, 1)
	upstream = strings.Replace(upstream, "{x}", x, 1)
	upstream = strings.Replace(upstream, "{y}", y, 1)

	resp, err := s.httpClient.Get(upstream)
	if err != nil {
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, "upstream read failed", http.StatusBadGateway)
		return
	}

	s.cache.Add(cacheKey, data)
	writeTile(w, data)
}

func writeTile(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "max-age=3600")
	w.Write(data)
}
