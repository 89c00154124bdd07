// Package httpproto is the HTTP/1.1 connection Processor: it parses requests
// incrementally and serves static files from a document root.
package httpproto

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/tbxark/hsha/pkg/hsha/conn"
)

const allowedMethods = "GET, HEAD"

// handler is shared by every Processor of one server.
type handler struct {
	cfg    Config
	root   string
	logger *zap.Logger
	now    func() time.Time
}

// Processor is the per-connection HTTP/1.1 conn.Processor.
type Processor struct {
	h        *handler
	requests int
}

// NewFactory validates cfg and returns a factory producing one Processor per
// connection slot.
func NewFactory(cfg Config, logger *zap.Logger) (conn.ProcessorFactory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(cfg.DocRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve document root: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{cfg: cfg, root: root, logger: logger, now: time.Now}
	return func() conn.Processor { return &Processor{h: h} }, nil
}

// Process implements conn.Processor.
func (p *Processor) Process(in []byte) conn.Outcome {
	req, n, err := parseRequest(in, p.h.cfg.MaxHeaderBytes, p.h.cfg.MaxBodyBytes)
	switch {
	case err == nil:
	case errors.Is(err, errIncomplete):
		return conn.Outcome{Status: conn.NeedMore}
	case errors.Is(err, errHeaderTooLarge):
		p.h.logger.Debug("Request header too large", zap.Int("limit", p.h.cfg.MaxHeaderBytes))
		return conn.Outcome{Status: conn.Fatal}
	default:
		return p.reject(err)
	}

	p.requests++
	resp := p.h.serve(req)
	resp.keepAlive = req.keepAlive()
	p.h.logger.Debug("Request served",
		zap.String("method", req.method),
		zap.String("target", req.target),
		zap.Int("status", resp.status),
		zap.Int("request", p.requests))

	return conn.Outcome{
		Status:    conn.Respond,
		Consumed:  n,
		Response:  resp.appendTo(nil, p.h.cfg.ServerName, p.h.now()),
		KeepAlive: resp.keepAlive,
	}
}

// reject answers a request that cannot be parsed and ends the connection,
// since the request boundary is unknown.
func (p *Processor) reject(err error) conn.Outcome {
	status := 400
	switch {
	case errors.Is(err, errBodyTooLarge):
		status = 413
	case errors.Is(err, errUnsupported):
		status = 501
	}
	p.h.logger.Debug("Rejecting request", zap.Int("status", status), zap.Error(err))
	return conn.Outcome{
		Status:   conn.Respond,
		Response: errorResponse(status).appendTo(nil, p.h.cfg.ServerName, p.h.now()),
	}
}

// Reset implements conn.Processor.
func (p *Processor) Reset() {
	p.requests = 0
}

func (h *handler) serve(req *request) *response {
	if req.method != "GET" && req.method != "HEAD" {
		resp := errorResponse(405)
		resp.allow = allowedMethods
		return resp
	}

	resp := h.file(req.target)
	resp.headOnly = req.method == "HEAD"
	return resp
}

func (h *handler) file(target string) *response {
	rawPath, _, _ := strings.Cut(target, "?")
	p, err := url.PathUnescape(rawPath)
	if err != nil || strings.ContainsRune(p, 0) {
		return errorResponse(400)
	}
	clean := path.Clean("/" + p)
	if strings.HasSuffix(p, "/") {
		clean = path.Join(clean, "index.html")
	}
	name := strings.TrimPrefix(clean, "/")
	if name == "" {
		name = "."
	}

	// Lookups go through os.Root so symlinks cannot leave the document root.
	root, err := os.OpenRoot(h.root)
	if err != nil {
		h.logger.Warn("Failed to open document root", zap.String("root", h.root), zap.Error(err))
		return errorResponse(500)
	}
	defer func() {
		_ = root.Close()
	}()

	f, err := root.Open(filepath.FromSlash(name))
	if errors.Is(err, fs.ErrNotExist) {
		return errorResponse(404)
	}
	if err != nil {
		h.logger.Debug("Refusing file", zap.String("path", name), zap.Error(err))
		return errorResponse(403)
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	switch {
	case err != nil, info.IsDir(), !info.Mode().IsRegular():
		return errorResponse(403)
	case info.Size() > h.cfg.MaxFileSize:
		return errorResponse(403)
	}

	body, err := io.ReadAll(io.LimitReader(f, h.cfg.MaxFileSize+1))
	if err != nil || int64(len(body)) > h.cfg.MaxFileSize {
		h.logger.Debug("Failed to read file", zap.String("path", name), zap.Error(err))
		return errorResponse(403)
	}
	return &response{
		status:      200,
		contentType: contentType(name, body),
		body:        body,
	}
}

func contentType(name string, body []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return mimetype.Detect(body).String()
}
