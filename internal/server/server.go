package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/viper"

	"github.com/audiolibrelab/practicelog/internal/apperrors"
	"github.com/audiolibrelab/practicelog/internal/config"
	"github.com/audiolibrelab/practicelog/internal/service"
	"github.com/audiolibrelab/practicelog/internal/session"
	"github.com/audiolibrelab/practicelog/internal/snapshot"
	"github.com/audiolibrelab/practicelog/internal/tools"
)

// Server is the HTTP remote control for a practice service.
type Server struct {
	service  *service.PracticeService
	engine   *session.Engine
	port     string
	upgrader websocket.Upgrader

	// statusInterval throttles websocket pushes.
	statusInterval time.Duration
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Session            session.Status `json:"session"`
	Message            string         `json:"message,omitempty"`
	Loudness           float64        `json:"loudness"`
	PlaybackPosition   float64        `json:"playback_position"`
	CountdownRemaining float64        `json:"countdown_remaining_seconds,omitempty"`
	ActiveProfile      string         `json:"active_profile"`
	LastError          string         `json:"last_error,omitempty"`
}

// RecoveryResponse describes a session left behind by an unclean exit.
type RecoveryResponse struct {
	Recoverable bool               `json:"recoverable"`
	Snapshot    *snapshot.Snapshot `json:"snapshot,omitempty"`
}

// SourceInfo contains information about an audio source
type SourceInfo struct {
	Name        string `json:"name"`
	Source      string `json:"source"`
	Status      string `json:"status"` // "available", "unavailable", "unknown"
	LastChecked string `json:"last_checked"`
}

// SourcesResponse represents the JSON response for sources endpoint
type SourcesResponse struct {
	Sources []SourceInfo `json:"sources"`
}

// EditRequest updates session metadata. Absent fields are left unchanged.
type EditRequest struct {
	Title *string `json:"title"`
	Notes *string `json:"notes"`
	Mood  *int    `json:"mood"`
	Focus *int    `json:"focus"`
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// New creates a new web server instance
func New(svc *service.PracticeService, port string) *Server {
	return &Server{
		service:        svc,
		engine:         svc.Engine(),
		port:           port,
		statusInterval: time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the routes of the remote control API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWebsocket)
	mux.HandleFunc("/session/start", s.handleStart)
	mux.HandleFunc("/session/pause", s.handlePause)
	mux.HandleFunc("/session/resume", s.handleResume)
	mux.HandleFunc("/session/save", s.handleSave)
	mux.HandleFunc("/session/discard", s.handleDiscard)
	mux.HandleFunc("/session/notes", s.handleEdit)
	mux.HandleFunc("/tools/", s.handleToggleTool)
	mux.HandleFunc("/playback/", s.handlePlayback)
	mux.HandleFunc("/recovery", s.handleRecovery)
	mux.HandleFunc("/recovery/resume", s.handleRecoveryResume)
	mux.HandleFunc("/recovery/discard", s.handleRecoveryDiscard)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/sources", s.handleSources)
	mux.HandleFunc("/config/profiles", s.handleProfiles)
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	localIP := getLocalIP()
	slog.Info("Starting practicelog web server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	}
}

// handleIndex serves a short description of the API
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>practicelog</title>
</head>
<body>
    <h1>practicelog</h1>
    <ul>
        <li>GET /status, GET /ws</li>
        <li>POST /session/start, /session/pause, /session/resume, /session/save, /session/discard</li>
        <li>PUT /session/notes</li>
        <li>POST /tools/{recorder,metronome,timer,tuner,notes}</li>
        <li>POST /playback/{play,pause,seek}</li>
        <li>GET /recovery, POST /recovery/resume, POST /recovery/discard</li>
        <li>GET /history, GET /sources, GET /config/profiles</li>
    </ul>
</body>
</html>`

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	s.sendJSON(w, http.StatusOK, s.statusResponse(s.engine.Status()))
}

func (s *Server) statusResponse(st session.Status) StatusResponse {
	resp := StatusResponse{
		Session:          st,
		Message:          statusMessage(st),
		Loudness:         s.engine.Loudness(),
		PlaybackPosition: s.engine.PlaybackPosition(),
		ActiveProfile:    s.service.GetConfig().Profile,
		LastError:        s.service.GetLastError(),
	}
	if remaining, ok := s.service.CountdownRemaining(); ok {
		resp.CountdownRemaining = remaining.Seconds()
	}
	return resp
}

func statusMessage(st session.Status) string {
	switch st.State {
	case session.StateIdle:
		return "No session running"
	case session.StateFinalizing:
		return "Saving session"
	case session.StateEnded:
		return "Session ended"
	}
	if st.Paused {
		return fmt.Sprintf("Paused at %s", formatSeconds(st.ElapsedSeconds))
	}
	if st.Recording {
		return fmt.Sprintf("Recording, %s practiced", formatSeconds(st.ElapsedSeconds))
	}
	return fmt.Sprintf("%s practiced", formatSeconds(st.ElapsedSeconds))
}

func formatSeconds(total int) string {
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total/60%60, total%60)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form", "operation", "start")
		return
	}
	sess, err := s.engine.Start(r.FormValue("title"))
	if err != nil {
		s.sendEngineError(w, err, "start")
		return
	}
	s.service.ClearLastError()
	s.sendJSON(w, http.StatusOK, sess)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if _, err := s.engine.Pause(); err != nil {
		s.sendEngineError(w, err, "pause")
		return
	}
	s.sendJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if _, err := s.engine.Resume(); err != nil {
		s.sendEngineError(w, err, "resume")
		return
	}
	s.sendJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	sess, err := s.engine.Save(r.Context())
	if err != nil {
		s.sendEngineError(w, err, "save")
		return
	}
	s.sendJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form", "operation", "discard")
		return
	}
	confirmed, _ := strconv.ParseBool(r.FormValue("confirm"))
	if err := s.engine.Discard(confirmed); err != nil {
		s.sendEngineError(w, err, "discard")
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Session discarded"})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPut) {
		return
	}
	var req EditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err), "operation", "edit")
		return
	}

	var err error
	if req.Title != nil {
		err = errors.Join(err, s.engine.SetTitle(*req.Title))
	}
	if req.Notes != nil {
		err = errors.Join(err, s.engine.SetNotes(*req.Notes))
	}
	if req.Mood != nil {
		err = errors.Join(err, s.engine.SetMood(*req.Mood))
	}
	if req.Focus != nil {
		err = errors.Join(err, s.engine.SetFocus(*req.Focus))
	}
	if err != nil {
		s.sendEngineError(w, err, "edit")
		return
	}
	s.sendJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleToggleTool(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	tool, err := tools.ParseTool(strings.TrimPrefix(r.URL.Path, "/tools/"))
	if err != nil {
		s.sendEngineError(w, err, "toggle_tool")
		return
	}
	tr, err := s.engine.Toggle(tool)
	if err != nil {
		s.sendEngineError(w, err, "toggle_tool")
		return
	}
	s.sendJSON(w, http.StatusOK, tr)
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var err error
	switch action := strings.TrimPrefix(r.URL.Path, "/playback/"); action {
	case "play":
		err = s.engine.PlayRecording()
	case "pause":
		err = s.engine.PauseRecording()
	case "seek":
		position, perr := strconv.ParseFloat(r.FormValue("position"), 64)
		if perr != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "position must be a number between 0 and 1", "operation", "seek")
			return
		}
		err = s.engine.SeekRecording(position)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.sendEngineError(w, err, "playback")
		return
	}
	s.sendJSON(w, http.StatusOK, s.statusResponse(s.engine.Status()))
}

func (s *Server) handleRecovery(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	snap, err := s.engine.RecoverablePreview()
	if errors.Is(err, apperrors.ErrNoSnapshot) {
		s.sendJSON(w, http.StatusOK, RecoveryResponse{})
		return
	}
	if err != nil {
		s.sendEngineError(w, err, "recovery")
		return
	}
	s.sendJSON(w, http.StatusOK, RecoveryResponse{Recoverable: true, Snapshot: &snap})
}

func (s *Server) handleRecoveryResume(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	sess, err := s.engine.Reconcile()
	if err != nil {
		s.sendEngineError(w, err, "recovery_resume")
		return
	}
	if sess == nil {
		s.sendErrorResponse(w, http.StatusNotFound, "No session to recover", "operation", "recovery_resume")
		return
	}
	s.sendJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRecoveryDiscard(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.engine.DiscardRecovered(); err != nil {
		s.sendEngineError(w, err, "recovery_discard")
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Recoverable session discarded"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "limit must be an integer", "operation", "history")
			return
		}
		limit = n
	}
	sessions, err := s.service.History(r.Context(), limit)
	if err != nil {
		s.sendEngineError(w, err, "history")
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// handleSources returns the status of all configured audio sources
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	cfg := s.service.GetConfig()
	channelStatus := s.service.GetChannelStatus()
	sources := make([]SourceInfo, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		status, exists := channelStatus[ch.Name]
		if !exists {
			status = service.ChannelUnknown
		}
		sources = append(sources, SourceInfo{
			Name:        ch.Name,
			Source:      strings.Join(ch.Sources, ", "),
			Status:      status,
			LastChecked: time.Now().Format(time.RFC3339),
		})
	}
	s.sendJSON(w, http.StatusOK, SourcesResponse{Sources: sources})
}

// handleProfiles returns available configuration profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": availableProfiles(s.service.ConfigFile()),
		"active":   s.service.GetConfig().Profile,
	})
}

// availableProfiles reads the profile names from the config file.
func availableProfiles(configFile string) []string {
	profiles := []string{}
	if configFile == "" {
		return profiles
	}
	if _, err := os.Stat(configFile); err != nil {
		return profiles
	}

	// A separate viper instance keeps the global config untouched.
	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		slog.Debug("Failed to read config file for profiles", "error", err)
		return profiles
	}
	var root config.RootConfig
	if err := v.Unmarshal(&root); err != nil {
		slog.Debug("Failed to unmarshal config for profiles", "error", err)
		return profiles
	}
	for name := range root.Configs {
		profiles = append(profiles, name)
	}
	sort.Strings(profiles)
	return profiles
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
	return false
}

// statusCode maps engine errors onto HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrConfirmationRequired):
		return http.StatusPreconditionRequired
	case errors.Is(err, apperrors.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrResourceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendEngineError(w http.ResponseWriter, err error, operation string) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		s.service.SetLastError(fmt.Sprintf("%s failed: %v", operation, err))
	}
	s.sendErrorResponse(w, code, err.Error(), "operation", operation)
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	if statusCode >= http.StatusInternalServerError {
		slog.Error("Sending error response to client", logFields...)
	} else {
		slog.Debug("Sending error response to client", logFields...)
	}

	s.sendJSON(w, statusCode, GenericResponse{Success: false, Error: errorMsg})
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

// getLocalIP returns the local IP address for network access
func getLocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
