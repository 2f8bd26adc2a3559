package api

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

const mjpegBoundary = "frame"

// registerFeedRoute serves the annotated MJPEG feed on the raw mux. The
// multipart/x-mixed-replace stream cannot be expressed as a Huma typed
// response.
func (s *Server) registerFeedRoute() {
	s.mux.HandleFunc("GET /api/detection/streams/{stream_id}/feed", func(w http.ResponseWriter, r *http.Request) {
		if !s.checkBasicAuth(w, r) {
			return
		}

		streamID := r.PathValue("stream_id")
		frames, cancel, err := s.streamSvc.Subscribe(streamID)
		if err != nil {
			http.Error(w, "stream not found", http.StatusNotFound)
			return
		}
		defer cancel()

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusOK)

		s.logger.Debug("Feed client connected", "stream_id", streamID, "remote_addr", r.RemoteAddr)

		// A disconnecting viewer only detaches itself; the stream keeps
		// running for other consumers and for detection events
		for {
			select {
			case <-r.Context().Done():
				s.logger.Debug("Feed client disconnected", "stream_id", streamID)
				return
			case frame, ok := <-frames:
				if !ok {
					// Stream stopped or expired
					return
				}
				if err := writeMJPEGPart(w, frame); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}

// writeMJPEGPart writes one JPEG frame as a multipart section.
func writeMJPEGPart(w http.ResponseWriter, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := fmt.Fprint(w, "\r\n")
	return err
}

// checkBasicAuth enforces basic auth on raw mux routes, mirroring the Huma
// middleware. Always true when auth is not configured.
func (s *Server) checkBasicAuth(w http.ResponseWriter, r *http.Request) bool {
	if s.options.AuthUsername == "" || s.options.AuthPassword == "" {
		return true
	}

	username, password, ok := r.BasicAuth()
	if !ok && r.URL.Query().Get("auth") != "" {
		// <img> tags cannot set headers, allow query parameter auth
		if decoded, err := decodeQueryAuth(r.URL.Query().Get("auth")); err == nil {
			if parts := strings.SplitN(decoded, ":", 2); len(parts) == 2 {
				username, password, ok = parts[0], parts[1], true
			}
		}
	}

	if !ok || username != s.options.AuthUsername || password != s.options.AuthPassword {
		w.Header().Set("WWW-Authenticate", `Basic realm="Pyrowatch API"`)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return false
	}
	return true
}

// decodeQueryAuth decodes the base64 "user:pass" query credential.
func decodeQueryAuth(encoded string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
