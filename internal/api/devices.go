package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pyrowatch/pyrowatch/internal/api/models"
	"github.com/pyrowatch/pyrowatch/internal/device"
)

// registerDeviceRoutes registers the accelerator status endpoint
func (s *Server) registerDeviceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Devices",
		Description: "Get the latest accelerator device snapshot. An empty device list means the service is running CPU-only.",
		Tags:        []string{"devices"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.DevicesResponse, error) {
		if s.devices == nil {
			return &models.DevicesResponse{
				Body: device.Snapshot{Devices: []device.Device{}},
			}, nil
		}
		return &models.DevicesResponse{Body: s.devices.Snapshot()}, nil
	})
}
