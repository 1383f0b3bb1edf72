package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/picbreeder/host/internal/errors"
	"github.com/picbreeder/host/internal/history"
	"github.com/picbreeder/host/internal/logging"
	"github.com/picbreeder/host/internal/server"
)

// DefaultEndpoint is where the companion server listens by default.
const DefaultEndpoint = "http://localhost:3001"

// NetworkOptions configure a Network mirror.
type NetworkOptions struct {
	// Endpoint is the companion base URL. Defaults to DefaultEndpoint.
	Endpoint string

	// Timeout bounds each request. Defaults to 5s.
	Timeout time.Duration

	// Rate caps requests per second. Zero or less means unlimited.
	Rate float64

	// Client overrides the HTTP client.
	Client *http.Client

	Logger *zap.Logger
}

// Network posts each new image to the companion's /api/save-image. The
// companion is optional; its absence is expected and only logged at debug.
type Network struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewNetwork returns a network mirror.
func NewNetwork(opts NetworkOptions) *Network {
	endpoint := strings.TrimRight(opts.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}

	return &Network{
		endpoint: endpoint,
		client:   client,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logging.OrNop(opts.Logger).Named("mirror.network"),
	}
}

func (n *Network) Name() string { return "network" }

// Mirror sends one request per image and reports whether all succeeded.
func (n *Network) Mirror(ctx context.Context, sessionID string, images []history.Image) bool {
	ok := true
	for _, img := range images {
		if err := n.Save(ctx, sessionID, img); err != nil {
			n.logger.Debug("network mirror failed",
				zap.String("session", sessionID),
				zap.String("image", img.ID),
				zap.Error(err))
			ok = false
		}
	}
	return ok
}

// Save posts a single image, including its genome when present.
func (n *Network) Save(ctx context.Context, sessionID string, img history.Image) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(server.SaveRequest{
		SessionID: sessionID,
		ImageID:   img.ID,
		ImageData: img.Thumbnail,
		Genome:    img.Genome,
	})
	if err != nil {
		return fmt.Errorf("encode save request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint+"/api/save-image", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeMirrorUnavailable, "companion unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e server.ErrorResponse
		json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("companion returned %d: %s", resp.StatusCode, e.Error)
	}
	return nil
}

// Health queries the companion's /api/health.
func (n *Network) Health(ctx context.Context) (server.HealthResponse, error) {
	var out server.HealthResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.endpoint+"/api/health", nil)
	if err != nil {
		return out, err
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return out, apperrors.Wrap(apperrors.CodeMirrorUnavailable, "companion unreachable at "+n.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return out, apperrors.MirrorUnavailable(fmt.Sprintf("companion health returned %d", resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode health response: %w", err)
	}
	return out, nil
}

// Endpoint returns the companion base URL.
func (n *Network) Endpoint() string {
	return n.endpoint
}
