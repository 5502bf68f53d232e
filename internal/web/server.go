package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"trailstats/internal/analysis"
	"trailstats/internal/gps"
	"trailstats/internal/ingest"
	"trailstats/internal/jobs"
	"trailstats/internal/storage"
)

const maxUploadBytes = 64 << 20

type Server struct {
	store     *storage.Store
	importer  *ingest.Importer
	maxUpload int64
}

type TrackView struct {
	Status   string                  `json:"status"`
	Track    storage.Track           `json:"track"`
	Analysis *analysis.TrackAnalysis `json:"analysis,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

type noteRequest struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Icon    string  `json:"icon"`
	Comment string  `json:"comment"`
}

func NewServer(store *storage.Store, importer *ingest.Importer) *Server {
	return &Server{store: store, importer: importer, maxUpload: maxUploadBytes}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /tracks", s.UploadTrack)
	mux.HandleFunc("GET /tracks", s.ListTracks)
	mux.HandleFunc("GET /tracks/{id}", s.GetTrack)
	mux.HandleFunc("GET /tracks/{id}/geojson", s.TrackGeoJSON)
	mux.HandleFunc("GET /tracks/{id}/elevation", s.TrackElevation)
	mux.HandleFunc("GET /tracks/{id}/gpx", s.ExportGPX)
	mux.HandleFunc("POST /tracks/{id}/recalculate", s.Recalculate)
	mux.HandleFunc("GET /tracks/{id}/notes", s.ListNotes)
	mux.HandleFunc("POST /tracks/{id}/notes", s.AddNote)
	mux.HandleFunc("GET /queue", s.Queue)
	return mux
}

// UploadTrack imports the request body. The format comes from ?format= or
// the extension of ?filename=.
func (s *Server) UploadTrack(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = r.URL.Query().Get("filename")
	}
	format, err := ingest.ParseFormat(name)
	if err != nil {
		writeError(w, err)
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.maxUpload)
	rec, err := ingest.Parse(body, format)
	if err != nil {
		writeError(w, err)
		return
	}
	if title := r.URL.Query().Get("name"); title != "" {
		rec.Name = title
	}

	trackID, err := s.importer.Import(r.Context(), rec)
	if err != nil {
		writeError(w, err)
		return
	}
	track, err := s.store.GetTrack(r.Context(), trackID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, TrackView{Status: "pending", Track: track})
}

func (s *Server) ListTracks(w http.ResponseWriter, r *http.Request) {
	listings, err := s.store.ListTracks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

// GetTrack answers 202 while the analysis is still queued and 422 once it
// has failed.
func (s *Server) GetTrack(w http.ResponseWriter, r *http.Request) {
	trackID, ok := trackIDFrom(w, r)
	if !ok {
		return
	}
	track, err := s.store.GetTrack(r.Context(), trackID)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.store.GetAnalysis(r.Context(), trackID)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeUnanalyzed(w, r, track)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TrackView{Status: "analyzed", Track: track, Analysis: &result})
}

func (s *Server) TrackGeoJSON(w http.ResponseWriter, r *http.Request) {
	trackID, ok := s.analyzedTrack(w, r)
	if !ok {
		return
	}
	points, err := s.store.LoadTrackPoints(r.Context(), trackID)
	if err != nil {
		writeError(w, err)
		return
	}
	pauses, err := s.store.LoadPauses(r.Context(), trackID)
	if err != nil {
		writeError(w, err)
		return
	}
	fc, err := analysis.Display(points, pauses)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := fc.MarshalJSON()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Write(out)
}

func (s *Server) TrackElevation(w http.ResponseWriter, r *http.Request) {
	trackID, ok := s.analyzedTrack(w, r)
	if !ok {
		return
	}
	samples, err := s.store.LoadElevation(r.Context(), trackID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

func (s *Server) ExportGPX(w http.ResponseWriter, r *http.Request) {
	trackID, ok := trackIDFrom(w, r)
	if !ok {
		return
	}
	rec, err := s.importer.Recording(r.Context(), trackID)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := ingest.ExportGPX(rec)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/gpx+xml")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"track-%d.gpx\"", trackID))
	w.Write(out)
}

func (s *Server) Recalculate(w http.ResponseWriter, r *http.Request) {
	trackID, ok := trackIDFrom(w, r)
	if !ok {
		return
	}
	track, err := s.store.GetTrack(r.Context(), trackID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := jobs.EnqueueAnalysis(r.Context(), s.store, trackID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, TrackView{Status: "pending", Track: track})
}

func (s *Server) ListNotes(w http.ResponseWriter, r *http.Request) {
	trackID, ok := trackIDFrom(w, r)
	if !ok {
		return
	}
	if _, err := s.store.GetTrack(r.Context(), trackID); err != nil {
		writeError(w, err)
		return
	}
	notes, err := s.store.ListNotes(r.Context(), trackID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) AddNote(w http.ResponseWriter, r *http.Request) {
	trackID, ok := trackIDFrom(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid note", http.StatusBadRequest)
		return
	}
	note, err := s.store.AddNote(r.Context(), storage.Note{
		TrackID: trackID,
		Coord:   gps.Coord{Lat: req.Lat, Lon: req.Lon},
		Icon:    storage.ParseNoteIcon(req.Icon),
		Comment: req.Comment,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (s *Server) Queue(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.CountQueue(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pending": count})
}

// analyzedTrack resolves the id and answers for the track itself when it
// has no analysis.
func (s *Server) analyzedTrack(w http.ResponseWriter, r *http.Request) (int64, bool) {
	trackID, ok := trackIDFrom(w, r)
	if !ok {
		return 0, false
	}
	track, err := s.store.GetTrack(r.Context(), trackID)
	if err != nil {
		writeError(w, err)
		return 0, false
	}
	if _, err := s.store.GetAnalysis(r.Context(), trackID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeUnanalyzed(w, r, track)
			return 0, false
		}
		writeError(w, err)
		return 0, false
	}
	return trackID, true
}

// writeUnanalyzed reports a track without analysis as pending while it is
// queued and as failed otherwise.
func (s *Server) writeUnanalyzed(w http.ResponseWriter, r *http.Request, track storage.Track) {
	queued, err := s.store.IsQueued(r.Context(), track.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if queued {
		writeJSON(w, http.StatusAccepted, TrackView{Status: "pending", Track: track})
		return
	}
	reason, err := s.store.AnalysisFailure(r.Context(), track.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if reason == "" {
		reason = "analysis not available"
	}
	writeJSON(w, http.StatusUnprocessableEntity, TrackView{Status: "failed", Track: track, Error: reason})
}

func trackIDFrom(w http.ResponseWriter, r *http.Request) (int64, bool) {
	trackID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || trackID <= 0 {
		http.Error(w, "invalid track id", http.StatusBadRequest)
		return 0, false
	}
	return trackID, true
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrAlreadyImported):
		return http.StatusConflict
	case errors.Is(err, gps.ErrCorruptTrack), errors.Is(err, gps.ErrPauseIndex), errors.Is(err, ingest.ErrNotActivity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ingest.ErrUnsupportedFile):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}
