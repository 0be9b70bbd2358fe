package classifier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mamadbah2/flockhealth/internal/apperrors"
	"github.com/mamadbah2/flockhealth/internal/config"
)

// Client exposes the diagnosis classifier operations used by the application.
type Client interface {
	GetClassification(ctx context.Context, id string) (*Classification, error)
}

// APIClient is a resty-backed implementation of Client.
type APIClient struct {
	httpClient *resty.Client
}

// NewClient builds a classifier API client using the provided configuration values.
func NewClient(cfg config.ClassifierConfig) *APIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	restyClient := resty.New()
	restyClient.
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.APIKey != "" {
		restyClient.SetAuthToken(cfg.APIKey)
	}

	return &APIClient{httpClient: restyClient}
}

// Candidate is one disease suggested by the classifier.
type Candidate struct {
	Disease    string  `json:"disease"`
	Confidence float64 `json:"confidence"`
}

// Classification mirrors the classifier's result document.
type Classification struct {
	ID            string      `json:"id"`
	BatchID       string      `json:"batch_id"`
	Symptoms      []string    `json:"symptoms"`
	Candidates    []Candidate `json:"candidates"`
	AffectedCount int         `json:"affected_count"`
	CreatedAt     time.Time   `json:"created_at"`
}

// apiError represents a classifier error payload.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *APIClient) GetClassification(ctx context.Context, id string) (*Classification, error) {
	result := new(Classification)
	apiErr := new(apiError)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(result).
		SetError(apiErr).
		Get("/v1/classifications/" + url.PathEscape(id))
	if err != nil {
		return nil, apperrors.StoreUnavailable("fetch classification", err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound:
		return nil, apperrors.NotFound("classification %s", id)
	case code >= http.StatusInternalServerError:
		return nil, apperrors.StoreUnavailable("fetch classification", fmt.Errorf("classifier api error: status=%d, message=%s", code, apiErr.Error.Message))
	case code >= http.StatusBadRequest:
		return nil, fmt.Errorf("classifier api error: status=%d, code=%s, message=%s", code, apiErr.Error.Code, apiErr.Error.Message)
	}

	return result, nil
}
