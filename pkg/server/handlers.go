package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"streamgate/pkg/auth"
	"streamgate/pkg/config"
	"streamgate/pkg/logger"
	"streamgate/pkg/resolver"
	"streamgate/pkg/session"
	"streamgate/pkg/stream"
)

type resolveRequest struct {
	ContentID        string `json:"contentId"`
	Type             string `json:"type"`
	Season           int    `json:"season"`
	Episode          int    `json:"episode"`
	PreferredQuality string `json:"preferredQuality"`
}

type streamInfo struct {
	Title   string `json:"title,omitempty"`
	Quality string `json:"quality"`
	Format  string `json:"format"`
	Source  string `json:"source"`
	HLS     bool   `json:"hls"`
}

type resolveResponse struct {
	SessionID    string       `json:"sessionId"`
	StreamURL    string       `json:"streamUrl"`
	ExpiresAt    string       `json:"expiresAt"`
	Stream       streamInfo   `json:"stream"`
	Alternatives []streamInfo `json:"alternatives,omitempty"`
}

type preloadRequest struct {
	Items []resolveRequest `json:"items"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// parseKey validates a request into a content key. Episodic types need
// season and episode; movies must not carry them.
func parseKey(req resolveRequest) (stream.ContentKey, error) {
	key := stream.ContentKey{
		ContentID: strings.TrimSpace(req.ContentID),
		Type:      stream.ContentType(req.Type),
		Season:    req.Season,
		Episode:   req.Episode,
	}

	if key.ContentID == "" {
		return key, fmt.Errorf("contentId is required")
	}
	switch key.Type {
	case stream.TypeMovie:
		if key.Season != 0 || key.Episode != 0 {
			return key, fmt.Errorf("season and episode do not apply to movie content")
		}
	case stream.TypeSeries, stream.TypeAnime:
		if key.Season <= 0 || key.Episode <= 0 {
			return key, fmt.Errorf("season and episode are required for %s content", key.Type)
		}
	default:
		return key, fmt.Errorf("unknown content type: %q", req.Type)
	}
	return key, nil
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key, err := parseKey(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	preferred := stream.Quality(req.PreferredQuality)
	if preferred == "" {
		if device, ok := auth.DeviceFromContext(r); ok {
			preferred = device.PreferredQuality
		}
	}

	if sess := s.sessions.Fresh(key); sess != nil {
		s.metrics.IncResolve("hit")
		writeJSON(w, http.StatusOK, s.resolveResponseFor(sess))
		return
	}

	sess, err := s.sessions.ResolveOrGet(r.Context(), key, s.resolveFunc(key, preferred))
	if err != nil {
		s.writeResolveError(w, key, err)
		return
	}

	s.metrics.IncResolve("resolved")
	writeJSON(w, http.StatusOK, s.resolveResponseFor(sess))
}

// resolveFunc adapts the orchestrator into the session store's callback.
func (s *Server) resolveFunc(key stream.ContentKey, preferred stream.Quality) session.ResolveFunc {
	return func(ctx context.Context) (*session.Session, error) {
		res, err := s.resolver.Resolve(ctx, key, preferred)
		if err != nil {
			return nil, err
		}
		return &session.Session{
			URL:          res.URL,
			Title:        res.Title,
			Quality:      res.Quality,
			Format:       res.Format,
			Source:       res.Source,
			HLS:          res.HLS,
			Alternatives: res.Alternatives,
		}, nil
	}
}

func (s *Server) writeResolveError(w http.ResponseWriter, key stream.ContentKey, err error) {
	var matErr *resolver.MaterializationError
	var cfgErr *config.MissingError

	switch {
	case errors.Is(err, resolver.ErrNoCandidates):
		s.metrics.IncResolve("no_candidates")
		writeError(w, http.StatusNotFound, "no playable stream found")
	case errors.As(err, &matErr):
		s.metrics.IncResolve("error")
		logger.Error("Materialization failed", "key", key.String(), "err", matErr)
		writeError(w, http.StatusBadGateway, "stream could not be prepared")
	case errors.As(err, &cfgErr):
		s.metrics.IncResolve("error")
		logger.Error("Configuration problem during resolve", "key", key.String(), "setting", cfgErr.Setting)
		writeError(w, http.StatusInternalServerError, "server misconfiguration")
	default:
		s.metrics.IncResolve("error")
		logger.Error("Resolve failed", "key", key.String(), "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) resolveResponseFor(sess *session.Session) resolveResponse {
	resp := resolveResponse{
		SessionID: sess.ID,
		StreamURL: strings.TrimSuffix(s.config.BaseURL, "/") + "/stream/" + sess.ID + "/manifest",
		ExpiresAt: sess.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"),
		Stream: streamInfo{
			Title:   sess.Title,
			Quality: string(sess.Quality),
			Format:  string(sess.Format),
			Source:  sess.Source,
			HLS:     sess.HLS,
		},
	}
	for _, alt := range sess.Alternatives {
		resp.Alternatives = append(resp.Alternatives, streamInfo{
			Title:   alt.Title,
			Quality: string(alt.Quality),
			Format:  string(alt.Format),
			Source:  alt.Source,
		})
	}
	return resp
}

// handleStream dispatches /stream/{sessionId}/manifest and
// /stream/{sessionId}/segment to the proxy.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, path string) {
	rest := strings.TrimPrefix(path, "/stream/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	sessionID := parts[0]
	switch strings.TrimSuffix(parts[1], "/") {
	case "manifest":
		s.proxy.ServeManifest(w, r, sessionID)
	case "segment":
		s.proxy.ServeSegment(w, r, sessionID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handlePreload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req preloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "no items to preload")
		return
	}

	keys := make([]stream.ContentKey, 0, len(req.Items))
	for _, item := range req.Items {
		key, err := parseKey(item)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		keys = append(keys, key)
	}

	// A preload outlives an impatient client; detach from the request.
	result := s.preloader.Run(context.WithoutCancel(r.Context()), keys)
	s.metrics.IncPreloadRuns()
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
