package api

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pyrowatch/pyrowatch/internal/streams"
)

func TestMapStreamError(t *testing.T) {
	server := &Server{}

	tests := []struct {
		code       string
		wantStatus int
	}{
		{streams.ErrCodeStreamNotFound, http.StatusNotFound},
		{streams.ErrCodeStreamExists, http.StatusConflict},
		{streams.ErrCodeInvalidParams, http.StatusUnprocessableEntity},
		{streams.ErrCodeSourceOpenFailed, http.StatusBadRequest},
		{streams.ErrCodeModelNotReady, http.StatusServiceUnavailable},
		{streams.ErrCodeStoreError, http.StatusInternalServerError},
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := server.mapStreamError(streams.NewStreamError(tt.code, "boom", nil))
			statusErr, ok := err.(huma.StatusError)
			if !ok {
				t.Fatalf("expected huma.StatusError, got %T", err)
			}
			if statusErr.GetStatus() != tt.wantStatus {
				t.Errorf("status = %d, want %d", statusErr.GetStatus(), tt.wantStatus)
			}
		})
	}
}

func TestWriteMJPEGPart(t *testing.T) {
	rec := httptest.NewRecorder()
	frame := []byte{0xff, 0xd8, 0xff, 0xd9}

	if err := writeMJPEGPart(rec, frame); err != nil {
		t.Fatal(err)
	}

	body := rec.Body.Bytes()
	header := fmt.Sprintf("--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame))
	if !bytes.HasPrefix(body, []byte(header)) {
		t.Errorf("unexpected part header:\n%q", body)
	}
	if !bytes.Contains(body, frame) {
		t.Error("frame bytes missing from part")
	}
	if !bytes.HasSuffix(body, []byte("\r\n")) {
		t.Error("part should end with CRLF")
	}
}

func TestCheckBasicAuth(t *testing.T) {
	open := &Server{options: &Options{}}
	req := httptest.NewRequest(http.MethodGet, "/api/detection/streams/x/feed", nil)
	if !open.checkBasicAuth(httptest.NewRecorder(), req) {
		t.Error("no configured credentials should allow all requests")
	}

	secured := &Server{options: &Options{AuthUsername: "admin", AuthPassword: "secret"}}

	rec := httptest.NewRecorder()
	if secured.checkBasicAuth(rec, req.Clone(req.Context())) {
		t.Error("missing credentials should be rejected")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("challenge header missing")
	}

	good := req.Clone(req.Context())
	good.SetBasicAuth("admin", "secret")
	if !secured.checkBasicAuth(httptest.NewRecorder(), good) {
		t.Error("valid header credentials should be accepted")
	}

	bad := req.Clone(req.Context())
	bad.SetBasicAuth("admin", "wrong")
	if secured.checkBasicAuth(httptest.NewRecorder(), bad) {
		t.Error("wrong password should be rejected")
	}

	query := httptest.NewRequest(http.MethodGet, "/feed?auth="+
		base64.StdEncoding.EncodeToString([]byte("admin:secret")), nil)
	if !secured.checkBasicAuth(httptest.NewRecorder(), query) {
		t.Error("valid query credentials should be accepted")
	}
}
