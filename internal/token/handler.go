package token

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ConnectionDetails is the token endpoint response: everything a client
// needs to join its room. Field names follow the LiveKit client SDK
// convention.
type ConnectionDetails struct {
	ServerURL        string `json:"serverUrl"`
	RoomName         string `json:"roomName"`
	ParticipantName  string `json:"participantName"`
	ParticipantToken string `json:"participantToken"`
}

// Handler serves room-join tokens over HTTP. It answers GET requests
// with ?room=&identity= query parameters.
type Handler struct {
	issuer    *Issuer
	serverURL string
	logger    *slog.Logger
}

// NewHandler creates a Handler minting tokens from issuer. serverURL is
// the media server websocket URL handed back to clients.
func NewHandler(issuer *Issuer, serverURL string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{issuer: issuer, serverURL: serverURL, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	room := r.URL.Query().Get("room")
	identity := r.URL.Query().Get("identity")
	if room == "" || identity == "" {
		writeError(w, http.StatusBadRequest, "room and identity query parameters are required")
		return
	}

	opts := []MintOption{}
	if name := r.URL.Query().Get("name"); name != "" {
		opts = append(opts, WithName(name))
	}
	if md := r.URL.Query().Get("metadata"); md != "" {
		opts = append(opts, WithMetadata(md))
	}

	signed, err := h.issuer.Mint(identity, room, opts...)
	if err != nil {
		h.logger.Error("token mint failed", "identity", identity, "room", room, "error", err)
		writeError(w, http.StatusInternalServerError, "token generation failed")
		return
	}

	writeJSON(w, http.StatusOK, ConnectionDetails{
		ServerURL:        h.serverURL,
		RoomName:         room,
		ParticipantName:  identity,
		ParticipantToken: signed,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
