package microsoftads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/maximilianredt/eforms-conversion-uploader/internal/config"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/domain"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/uploader"
)

// batchSize is the Microsoft Ads limit per offline conversion request.
const batchSize = 1000

// timeFormat is the conversion time layout the API expects.
const timeFormat = "2006-01-02T15:04:05.000Z"

// Client uploads offline conversions through the Microsoft Ads
// conversions API.
type Client struct {
	cfg  config.MicrosoftAds
	http *http.Client
	log  *zap.Logger
}

// NewClient creates a Microsoft Ads uploader.
func NewClient(cfg config.MicrosoftAds, log *zap.Logger) *Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second, Transport: tr},
		log:  log,
	}
}

// Platform identifies this uploader.
func (c *Client) Platform() domain.Platform {
	return domain.PlatformMicrosoftAds
}

type offlineConversion struct {
	MicrosoftClickID       string  `json:"microsoftClickId"`
	ConversionName         string  `json:"conversionName"`
	ConversionTime         string  `json:"conversionTime"`
	ConversionValue        float64 `json:"conversionValue"`
	ConversionCurrencyCode string  `json:"conversionCurrencyCode"`
	HashedEmailAddress     string  `json:"hashedEmailAddress,omitempty"`
}

type conversionAdjustment struct {
	MicrosoftClickID       string  `json:"microsoftClickId"`
	ConversionName         string  `json:"conversionName"`
	ConversionTime         string  `json:"conversionTime"`
	AdjustmentType         string  `json:"adjustmentType"`
	AdjustmentTime         string  `json:"adjustmentTime"`
	AdjustmentValue        float64 `json:"adjustmentValue"`
	AdjustmentCurrencyCode string  `json:"adjustmentCurrencyCode"`
}

// partialError is one rejected record in an otherwise accepted batch.
type partialError struct {
	Index   int    `json:"index"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// UploadConversions submits offline conversions in chunks. The API
// accepts a batch and reports rejected records by index.
func (c *Client) UploadConversions(ctx context.Context, conversions []uploader.Conversion) []uploader.Result {
	results := make([]uploader.Result, 0, len(conversions))

	for start := 0; start < len(conversions); start += batchSize {
		end := start + batchSize
		if end > len(conversions) {
			end = len(conversions)
		}
		chunk := conversions[start:end]

		payload := make([]offlineConversion, 0, len(chunk))
		for _, conv := range chunk {
			payload = append(payload, offlineConversion{
				MicrosoftClickID:       conv.ClickID,
				ConversionName:         conv.ActionName,
				ConversionTime:         conv.OccurredAt.UTC().Format(timeFormat),
				ConversionValue:        conv.Value,
				ConversionCurrencyCode: conv.Currency,
				HashedEmailAddress:     conv.HashedEmail,
			})
		}

		eventIDs := make([]string, len(chunk))
		for i, conv := range chunk {
			eventIDs[i] = conv.EventID
		}

		url := fmt.Sprintf("%s/tags/%s/offlineConversions", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.TagID)
		results = append(results, c.submit(ctx, url, map[string]any{"conversions": payload}, eventIDs)...)
	}

	return results
}

// UploadRetractions submits Retract adjustments. Microsoft matches on
// the click id, the goal name, and the original conversion time.
func (c *Client) UploadRetractions(ctx context.Context, retractions []uploader.Retraction) []uploader.Result {
	results := make([]uploader.Result, 0, len(retractions))

	for start := 0; start < len(retractions); start += batchSize {
		end := start + batchSize
		if end > len(retractions) {
			end = len(retractions)
		}
		chunk := retractions[start:end]

		payload := make([]conversionAdjustment, 0, len(chunk))
		for _, ret := range chunk {
			payload = append(payload, conversionAdjustment{
				MicrosoftClickID:       ret.ClickID,
				ConversionName:         ret.ActionName,
				ConversionTime:         ret.OriginalTime.UTC().Format(timeFormat),
				AdjustmentType:         "Retract",
				AdjustmentTime:         ret.AdjustedAt.UTC().Format(timeFormat),
				AdjustmentValue:        0,
				AdjustmentCurrencyCode: ret.Currency,
			})
		}

		eventIDs := make([]string, len(chunk))
		for i, ret := range chunk {
			eventIDs[i] = ret.EventID
		}

		url := fmt.Sprintf("%s/tags/%s/offlineConversionAdjustments", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.TagID)
		results = append(results, c.submit(ctx, url, map[string]any{"adjustments": payload}, eventIDs)...)
	}

	return results
}

// submit posts one chunk and maps the response onto per-record
// outcomes. A transport or whole-request failure marks every record of
// the chunk as failed.
func (c *Client) submit(ctx context.Context, url string, body map[string]any, eventIDs []string) []uploader.Result {
	results := make([]uploader.Result, len(eventIDs))

	respBody, status, err := c.post(ctx, url, body)
	if err != nil {
		c.log.Error("Microsoft Ads request failed", zap.Error(err))
		for i, eventID := range eventIDs {
			results[i] = uploader.Result{
				EventID: eventID,
				Reason:  uploader.ReasonTransient,
				Message: err.Error(),
			}
		}
		return results
	}

	if status != http.StatusOK {
		reason := classifyStatus(status)
		message := fmt.Sprintf("HTTP %d: %s", status, truncateBody(respBody))
		c.log.Error("Microsoft Ads request rejected", zap.Int("status", status))
		for i, eventID := range eventIDs {
			results[i] = uploader.Result{
				EventID: eventID,
				Reason:  reason,
				Message: message,
			}
		}
		return results
	}

	var parsed struct {
		PartialErrors []partialError `json:"partialErrors"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		c.log.Warn("Failed to decode Microsoft Ads response, assuming batch accepted", zap.Error(err))
	}

	failures := make(map[int]partialError, len(parsed.PartialErrors))
	for _, pe := range parsed.PartialErrors {
		failures[pe.Index] = pe
	}

	for i, eventID := range eventIDs {
		if pe, failed := failures[i]; failed {
			results[i] = uploader.Result{
				EventID: eventID,
				Reason:  classifyError(pe),
				Message: fmt.Sprintf("code %d: %s", pe.Code, pe.Message),
			}
			continue
		}
		results[i] = uploader.Result{
			EventID: eventID,
			OK:      true,
			Message: "OK",
		}
	}
	return results
}

func (c *Client) post(ctx context.Context, url string, body any) ([]byte, int, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

func classifyStatus(status int) uploader.FailureReason {
	switch {
	case status == http.StatusTooManyRequests:
		return uploader.ReasonRateLimited
	case status >= 500:
		return uploader.ReasonTransient
	default:
		return uploader.ReasonRejected
	}
}

// classifyError maps a partial error to a failure reason. Click id
// problems come back with stable phrases in the message.
func classifyError(pe partialError) uploader.FailureReason {
	upper := strings.ToUpper(pe.Message)
	switch {
	case strings.Contains(upper, "EXPIRED"):
		return uploader.ReasonExpiredClick
	case strings.Contains(upper, "CLICK"):
		return uploader.ReasonInvalidClick
	case strings.Contains(upper, "GOAL"):
		return uploader.ReasonUnknownAction
	default:
		return uploader.ReasonRejected
	}
}

func truncateBody(body []byte) string {
	const limit = 500
	if len(body) > limit {
		return string(body[:limit])
	}
	return string(body)
}
