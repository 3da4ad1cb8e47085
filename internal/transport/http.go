// Package transport wires the Registry and Broadcast packages to a plain
// net/http server: POST publishes, GET/HEAD subscribe, and a small
// supplemental surface (an HTML index page and a `.webm` alias) documented
// in SPEC_FULL.md §12.
//
// Grounded on internal/rtmp/server/publish_handler.go and play_handler.go's
// shape (explicit dependencies passed into handler functions, errors wrapped
// and classified before a response is chosen) and on
// arung-agamani-denpa-radio's StreamHandler.ServeHTTP (http.Flusher
// streaming-write loop, select on request context cancellation).
package transport

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alxayo/webmrelay/internal/broadcast"
	relerrors "github.com/alxayo/webmrelay/internal/errors"
	"github.com/alxayo/webmrelay/internal/logger"
	"github.com/alxayo/webmrelay/internal/registry"
)

// defaultPublishChunkBytes is the read() size from a publisher's request
// body, per spec.md §5 "16 KiB is the source's choice; any value >= 4 KiB is
// acceptable."
const defaultPublishChunkBytes = 16384

// Config tunes the HTTP handler.
type Config struct {
	Registry          *registry.Registry
	PublishChunkBytes int
	Logger            *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.PublishChunkBytes <= 0 {
		c.PublishChunkBytes = defaultPublishChunkBytes
	}
	if c.Logger == nil {
		c.Logger = logger.Logger()
	}
	return c
}

// Handler is the root http.Handler for the relay's stream surface.
type Handler struct {
	cfg Config
	log *slog.Logger
	mux *http.ServeMux
}

// New builds a Handler and registers its routes.
func New(cfg Config) *Handler {
	cfg = cfg.withDefaults()
	h := &Handler{cfg: cfg, log: cfg.Logger}
	h.mux = http.NewServeMux()
	h.mux.HandleFunc("/stream/", h.handleStream)
	h.mux.HandleFunc("/", h.handleWebmAlias)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// streamName extracts "x" from "/stream/x" or "/stream/x/"; index reports
// the trailing slash. It does not validate the name: the caller rejects
// empty and multi-segment names.
func streamName(path, prefix string) (name string, index bool) {
	rest := strings.TrimPrefix(path, prefix)
	if strings.HasSuffix(rest, "/") {
		return strings.TrimSuffix(rest, "/"), true
	}
	return rest, false
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	name, index := streamName(r.URL.Path, "/stream/")
	if name == "" || strings.Contains(name, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodPost:
		if index {
			http.NotFound(w, r)
			return
		}
		h.handlePublish(w, r, name)
	case http.MethodGet:
		if index {
			h.handleIndex(w, r, name)
			return
		}
		h.handleSubscribe(w, r, name, false)
	case http.MethodHead:
		if index {
			http.NotFound(w, r)
			return
		}
		h.handleSubscribe(w, r, name, true)
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleWebmAlias mounts the spec.md §6 "alternate source form" `/<name>.webm`
// as a GET/HEAD alias onto the same Broadcast lookup used by `/stream/<name>`.
func (h *Handler) handleWebmAlias(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if !strings.HasSuffix(path, ".webm") || strings.Contains(path, "/") {
		http.NotFound(w, r)
		return
	}
	name := strings.TrimSuffix(path, ".webm")
	if name == "" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.handleSubscribe(w, r, name, r.Method == http.MethodHead)
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request, name string) {
	log := logger.WithStream(h.log, name)

	b, err := h.cfg.Registry.Claim(name)
	if err != nil {
		if relerrors.IsNameInUse(err) {
			http.Error(w, "stream id already taken", http.StatusForbidden)
			return
		}
		log.Error("failed to claim stream", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	log.Info("publisher connected", "remote_addr", r.RemoteAddr)

	buf := make([]byte, h.cfg.PublishChunkBytes)
	for {
		n, readErr := r.Body.Read(buf)
		if n > 0 {
			if sendErr := b.Send(buf[:n]); sendErr != nil {
				if relerrors.IsBadContainer(sendErr) {
					log.Warn("rejecting publisher", "error", sendErr)
					h.cfg.Registry.Abort(name)
					http.Error(w, sendErr.Error(), http.StatusBadRequest)
					return
				}
				log.Error("unexpected send error", "error", sendErr)
				h.cfg.Registry.Release(name)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				log.Info("publisher body read ended early", "error", readErr)
			}
			break
		}
	}

	h.cfg.Registry.Release(name)
	log.Info("publisher finished")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request, name string, headOnly bool) {
	log := logger.WithStream(h.log, name)

	b, ok := h.cfg.Registry.Get(name)
	if !ok {
		http.Error(w, "this stream is offline", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "video/webm")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if headOnly {
		return
	}

	sub := b.Connect(false)
	log = logger.WithSubscriber(log, name, sub.ID())
	defer func() {
		b.Disconnect(sub)
		log.Info("subscriber disconnected")
	}()
	log.Info("subscriber connected", "remote_addr", r.RemoteAddr)

	flusher, canFlush := w.(http.Flusher)
	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case chunk := <-sub.Queue():
			if _, err := w.Write(chunk); err != nil {
				broadcast.Release(chunk)
				return
			}
			broadcast.Release(chunk)
			if canFlush {
				flusher.Flush()
			}
		}
	}
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Name}}</title></head>
<body>
<video autoplay preload="none" controls>
<source src="{{.Src}}" type="video/webm">
</video>
</body>
</html>
`))

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request, name string) {
	if _, ok := h.cfg.Registry.Get(name); !ok {
		http.Error(w, "this stream is offline", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct{ Name, Src string }{Name: name, Src: fmt.Sprintf("/stream/%s", name)}
	if err := indexTemplate.Execute(w, data); err != nil {
		h.log.Error("failed to render index page", "stream", name, "error", err)
	}
}
