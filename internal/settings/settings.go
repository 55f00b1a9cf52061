package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"tutor-llm/internal/domain"
)

// BrandingSource devuelve la marca del colegio de un tenant.
type BrandingSource interface {
	Branding(ctx context.Context, tenantID string) (domain.Branding, error)
}

// HTTPClient consulta el servicio de ajustes remoto.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), client: httpClient}
}

func (c *HTTPClient) Branding(ctx context.Context, tenantID string) (domain.Branding, error) {
	endpoint := fmt.Sprintf("%s/tenants/%s/branding", c.baseURL, url.PathEscape(tenantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Branding{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Branding{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Branding{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return domain.Branding{}, fmt.Errorf("settings http error: status=%d", resp.StatusCode)
	}

	var b domain.Branding
	if err := json.Unmarshal(body, &b); err != nil {
		return domain.Branding{}, fmt.Errorf("unmarshal branding: %w", err)
	}
	return b, nil
}

// Service cachea la marca y nunca falla: sin datos devuelve Branding vacio.
type Service struct {
	source   BrandingSource
	tenantID string
	cache    *cache.Cache
	logger   *zap.Logger
}

func NewService(source BrandingSource, tenantID string, ttl time.Duration, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		source:   source,
		tenantID: strings.TrimSpace(tenantID),
		cache:    cache.New(ttl, 2*ttl),
		logger:   logger,
	}
}

// Branding devuelve la marca del tenant configurado.
func (s *Service) Branding(ctx context.Context) domain.Branding {
	if s == nil || s.source == nil || s.tenantID == "" {
		return domain.Branding{}
	}
	if x, found := s.cache.Get(s.tenantID); found {
		return x.(domain.Branding)
	}

	b, err := s.source.Branding(ctx, s.tenantID)
	if err != nil {
		s.logger.Warn("branding lookup failed", zap.String("tenant_id", s.tenantID), zap.Error(err))
		return domain.Branding{}
	}
	s.cache.Set(s.tenantID, b, cache.DefaultExpiration)
	return b
}

// SchoolName es un atajo para el saludo.
func (s *Service) SchoolName(ctx context.Context) string {
	return s.Branding(ctx).SchoolName
}
