package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/cafevox/internal/observe"
	"github.com/MrWong99/cafevox/internal/order"
	"github.com/MrWong99/cafevox/internal/voice"
	"github.com/MrWong99/cafevox/pkg/audio"
)

const (
	// maxUploadBytes caps one uploaded recording.
	maxUploadBytes = 10 << 20

	maxTTSBody = 64 << 10
)

// transcriptResponse is the body of a successful POST /api/stt.
type transcriptResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// voiceOrderResponse is the body of a successful POST /api/voice-order.
// Reply is nil when nothing intelligible was said.
type voiceOrderResponse struct {
	Text     string       `json:"text"`
	Language string       `json:"language"`
	Reply    *order.Reply `json:"reply"`
}

// handleSTT transcribes the multipart field "audio" and answers
// {"text", "language"}.
func (s *Server) handleSTT(w http.ResponseWriter, r *http.Request) {
	data, mime, err := readUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tr, err := s.orch.Transcribe(r.Context(), data, mime)
	if err != nil {
		observe.Logger(r.Context()).Warn("web: transcription failed", "err", err)
		writeError(w, http.StatusBadGateway, "Failed to transcribe audio")
		return
	}
	writeJSON(w, http.StatusOK, transcriptResponse{Text: tr.Text, Language: tr.Language})
}

// handleTTS answers a JSON {"text"} body with the synthesized audio.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTTSBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	a, err := s.orch.Synthesize(r.Context(), req.Text)
	switch {
	case errors.Is(err, voice.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, "text is required")
		return
	case errors.Is(err, voice.ErrTextTooLong):
		writeError(w, http.StatusRequestEntityTooLarge, "text is too long")
		return
	case err != nil:
		observe.Logger(r.Context()).Warn("web: synthesis failed", "err", err)
		writeError(w, http.StatusBadGateway, "Failed to synthesize speech")
		return
	}

	mime := a.MimeType
	if mime == "" {
		mime = audio.MimeWAV
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(a.Data); err != nil {
		observe.Logger(r.Context()).Debug("web: write audio", "err", err)
	}
}

// handleVoiceOrder transcribes an uploaded recording and runs the text
// through the model against the caller's stored cart. Like POST /api/chat
// it returns the reply without applying its actions.
func (s *Server) handleVoiceOrder(w http.ResponseWriter, r *http.Request) {
	data, mime, err := readUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log := observe.Logger(r.Context())

	tr, err := s.orch.Transcribe(r.Context(), data, mime)
	if err != nil {
		log.Warn("web: voice order transcription failed", "err", err)
		writeError(w, http.StatusBadGateway, "Failed to transcribe audio")
		return
	}
	resp := voiceOrderResponse{Text: tr.Text, Language: tr.Language}
	if tr.Text == "" {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	reply, err := s.orch.Chat(r.Context(), voice.ChatRequest{
		Text: tr.Text,
		Cart: s.chatCart(w, r, nil),
	}, nil)
	if err != nil {
		log.Warn("web: voice order chat failed", "err", err)
		writeError(w, http.StatusBadGateway, "model unavailable")
		return
	}
	resp.Reply = &reply
	writeJSON(w, http.StatusOK, resp)
}

// readUpload returns the recording in the multipart field "audio" (or
// "file") and its content type, defaulting to WebM.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, "", errors.New("invalid multipart body")
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	var (
		f   io.ReadCloser
		err error
	)
	mime := ""
	for _, field := range []string{"audio", "file"} {
		file, hdr, ferr := r.FormFile(field)
		if ferr != nil {
			err = ferr
			continue
		}
		f, err = file, nil
		mime = hdr.Header.Get("Content-Type")
		break
	}
	if f == nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, "", errors.New("No audio file provided")
		}
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, "", errors.New("No audio file provided")
	}
	mime = strings.TrimSpace(mime)
	if mime == "" || mime == "application/octet-stream" {
		mime = audio.MimeWebM
	}
	return data, mime, nil
}
