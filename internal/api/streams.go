package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pyrowatch/pyrowatch/internal/api/models"
	"github.com/pyrowatch/pyrowatch/internal/streams"
)

// registerStreamRoutes registers the detection stream endpoints
func (s *Server) registerStreamRoutes() {
	// List active streams
	huma.Register(s.api, huma.Operation{
		OperationID: "list-streams",
		Method:      http.MethodGet,
		Path:        "/api/detection/streams",
		Summary:     "List Streams",
		Description: "Get all currently active detection streams",
		Tags:        []string{"streams"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.StreamListResponse, error) {
		infos := s.streamSvc.List()
		return &models.StreamListResponse{
			Body: models.StreamListData{
				Streams: infos,
				Count:   len(infos),
			},
		}, nil
	})

	// Start a new stream
	huma.Register(s.api, huma.Operation{
		OperationID:   "start-stream",
		Method:        http.MethodPost,
		Path:          "/api/detection/streams",
		DefaultStatus: http.StatusCreated,
		Summary:       "Start Stream",
		Description:   "Start fire and smoke detection on a video source",
		Tags:          []string{"streams"},
		Errors:        []int{400, 401, 409, 422, 503},
		Security:      withAuth(),
	}, func(ctx context.Context, input *models.StartStreamRequest) (*models.StreamResponse, error) {
		info, err := s.streamSvc.Start(streams.StartRequest{
			Source:          input.Body.Source,
			LifetimeMinutes: input.Body.LifetimeMinutes,
			Persist:         input.Body.Persist,
		})
		if err != nil {
			return nil, s.mapStreamError(err)
		}
		return &models.StreamResponse{Body: info}, nil
	})

	// Get a single stream
	huma.Register(s.api, huma.Operation{
		OperationID: "get-stream",
		Method:      http.MethodGet,
		Path:        "/api/detection/streams/{stream_id}",
		Summary:     "Get Stream",
		Description: "Get details of a single detection stream",
		Tags:        []string{"streams"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct {
		StreamID string `path:"stream_id" example:"6f1e0f0a-9b2e-4c8e-9a71-2f6d3f0a1b4c" doc:"Stream identifier"`
	}) (*models.StreamResponse, error) {
		info, err := s.streamSvc.Get(input.StreamID)
		if err != nil {
			return nil, s.mapStreamError(err)
		}
		return &models.StreamResponse{Body: info}, nil
	})

	// Stop a stream
	huma.Register(s.api, huma.Operation{
		OperationID: "stop-stream",
		Method:      http.MethodDelete,
		Path:        "/api/detection/streams/{stream_id}",
		Summary:     "Stop Stream",
		Description: "Stop a detection stream and release its video source",
		Tags:        []string{"streams"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct {
		StreamID string `path:"stream_id" example:"6f1e0f0a-9b2e-4c8e-9a71-2f6d3f0a1b4c" doc:"Stream identifier"`
	}) (*struct{}, error) {
		if err := s.streamSvc.Stop(input.StreamID); err != nil {
			return nil, s.mapStreamError(err)
		}
		return &struct{}{}, nil
	})
}

// mapStreamError maps domain errors to HTTP errors
func (s *Server) mapStreamError(err error) error {
	var streamErr *streams.StreamError
	if errors.As(err, &streamErr) {
		switch streamErr.Code {
		case streams.ErrCodeStreamNotFound:
			return huma.Error404NotFound(streamErr.Message, err)
		case streams.ErrCodeStreamExists:
			return huma.Error409Conflict(streamErr.Message, err)
		case streams.ErrCodeInvalidParams:
			return huma.Error422UnprocessableEntity(streamErr.Message, err)
		case streams.ErrCodeSourceOpenFailed:
			return huma.Error400BadRequest(streamErr.Message, err)
		case streams.ErrCodeModelNotReady:
			return huma.Error503ServiceUnavailable(streamErr.Message, err)
		case streams.ErrCodeStoreError:
			return huma.Error500InternalServerError(streamErr.Message, err)
		}
	}
	return huma.Error500InternalServerError("internal server error", err)
}
