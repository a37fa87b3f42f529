package thumbnails

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

var errMissingEndpoint = errors.New("renderer endpoint is required")

// HTTPRenderer posts regeneration requests to a rendering service.
type HTTPRenderer struct {
	endpoint string
	client   *http.Client
}

// NewHTTPRenderer constructs an HTTPRenderer. A nil client selects
// http.DefaultClient.
func NewHTTPRenderer(endpoint string, client *http.Client) (*HTTPRenderer, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, errMissingEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRenderer{endpoint: trimmed, client: client}, nil
}

type regenerationRequest struct {
	DocumentID string `json:"documentId"`
}

// RequestRegeneration asks the renderer to rebuild the previews of documentID.
func (r *HTTPRenderer) RequestRegeneration(ctx context.Context, documentID string) error {
	body, err := json.Marshal(regenerationRequest{DocumentID: documentID})
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	response, err := r.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("renderer responded with status %d", response.StatusCode)
	}
	return nil
}

// LogRenderer records requests without contacting a renderer. It is used
// when no renderer endpoint is configured.
type LogRenderer struct {
	Logger *zap.Logger
}

func (r LogRenderer) RequestRegeneration(_ context.Context, documentID string) error {
	if r.Logger != nil {
		r.Logger.Info("thumbnail regeneration skipped: no renderer configured", zap.String("document_id", documentID))
	}
	return nil
}
