package googleads

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

// batchSize is the Google Ads API limit per uploadClickConversions
// request.
const batchSize = 2000

// timeFormat is the conversion date time layout the API expects.
const timeFormat = "2006-01-02 15:04:05+00:00"

// ActionCache maps conversion action names to their API resource
// names. Populated lazily during a run and shared across passes so each
// action is resolved at most once.
type ActionCache map[string]string

// Client uploads offline conversions through the Google Ads REST API.
type Client struct {
	cfg     config.GoogleAds
	actions ActionCache
	http    *http.Client
	log     *zap.Logger
}

// NewClient creates a Google Ads uploader. The action cache is owned by
// the caller so a run can share one cache across forward and refund
// passes.
func NewClient(cfg config.GoogleAds, actions ActionCache, log *zap.Logger) *Client {
	return &Client{
		cfg:     cfg,
		actions: actions,
		http:    newHTTPClient(30 * time.Second),
		log:     log,
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// Platform identifies this uploader.
func (c *Client) Platform() domain.Platform {
	return domain.PlatformGoogleAds
}

type clickConversion struct {
	GCLID              string           `json:"gclid"`
	ConversionAction   string           `json:"conversionAction"`
	ConversionDateTime string           `json:"conversionDateTime"`
	ConversionValue    float64          `json:"conversionValue"`
	CurrencyCode       string           `json:"currencyCode"`
	OrderID            string           `json:"orderId,omitempty"`
	UserIdentifiers    []userIdentifier `json:"userIdentifiers,omitempty"`
}

type userIdentifier struct {
	HashedEmail string       `json:"hashedEmail,omitempty"`
	AddressInfo *addressInfo `json:"addressInfo,omitempty"`
}

type addressInfo struct {
	HashedFirstName string `json:"hashedFirstName,omitempty"`
	HashedLastName  string `json:"hashedLastName,omitempty"`
	City            string `json:"city,omitempty"`
	State           string `json:"state,omitempty"`
	CountryCode     string `json:"countryCode,omitempty"`
	PostalCode      string `json:"postalCode,omitempty"`
}

type conversionAdjustment struct {
	ConversionAction   string         `json:"conversionAction"`
	AdjustmentType     string         `json:"adjustmentType"`
	AdjustmentDateTime string         `json:"adjustmentDateTime"`
	OrderID            string         `json:"orderId,omitempty"`
	GCLIDDateTimePair  *gclidTimePair `json:"gclidDateTimePair,omitempty"`
}

type gclidTimePair struct {
	GCLID              string `json:"gclid"`
	ConversionDateTime string `json:"conversionDateTime"`
}

// UploadConversions submits click conversions in chunks, requesting
// partial failure so one bad record cannot sink a chunk.
func (c *Client) UploadConversions(ctx context.Context, conversions []uploader.Conversion) []uploader.Result {
	results := make([]uploader.Result, 0, len(conversions))

	for _, chunk := range chunkConversions(conversions) {
		payload := make([]clickConversion, 0, len(chunk))
		chunkResults := make([]uploader.Result, len(chunk))
		indexMap := make([]int, 0, len(chunk))

		for i, conv := range chunk {
			resource, err := c.resolveAction(ctx, conv.ActionName)
			if err != nil {
				chunkResults[i] = uploader.Result{
					EventID: conv.EventID,
					Reason:  uploader.ReasonUnknownAction,
					Message: err.Error(),
				}
				continue
			}
			payload = append(payload, c.buildClickConversion(conv, resource))
			indexMap = append(indexMap, i)
		}

		c.submitChunk(ctx, "uploadClickConversions", map[string]any{
			"conversions":    payload,
			"partialFailure": true,
		}, "conversions", chunk, indexMap, chunkResults)

		results = append(results, chunkResults...)
	}

	return results
}

// UploadRetractions submits RETRACT conversion adjustments matched by
// the original order id.
func (c *Client) UploadRetractions(ctx context.Context, retractions []uploader.Retraction) []uploader.Result {
	results := make([]uploader.Result, 0, len(retractions))

	for _, chunk := range chunkRetractions(retractions) {
		payload := make([]conversionAdjustment, 0, len(chunk))
		chunkResults := make([]uploader.Result, len(chunk))
		indexMap := make([]int, 0, len(chunk))

		for i, ret := range chunk {
			resource, err := c.resolveAction(ctx, ret.ActionName)
			if err != nil {
				chunkResults[i] = uploader.Result{
					EventID: ret.EventID,
					Reason:  uploader.ReasonUnknownAction,
					Message: err.Error(),
				}
				continue
			}
			payload = append(payload, conversionAdjustment{
				ConversionAction:   resource,
				AdjustmentType:     "RETRACTION",
				AdjustmentDateTime: ret.AdjustedAt.UTC().Format(timeFormat),
				OrderID:            ret.OriginalEventID,
			})
			indexMap = append(indexMap, i)
		}

		c.submitChunk(ctx, "uploadConversionAdjustments", map[string]any{
			"conversionAdjustments": payload,
			"partialFailure":        true,
		}, "conversion_adjustments", chunk, indexMap, chunkResults)

		results = append(results, chunkResults...)
	}

	return results
}

func (c *Client) buildClickConversion(conv uploader.Conversion, resource string) clickConversion {
	cc := clickConversion{
		GCLID:              conv.ClickID,
		ConversionAction:   resource,
		ConversionDateTime: conv.OccurredAt.UTC().Format(timeFormat),
		ConversionValue:    conv.Value,
		CurrencyCode:       conv.Currency,
		OrderID:            conv.OrderID,
	}
	if conv.HashedEmail != "" {
		cc.UserIdentifiers = append(cc.UserIdentifiers, userIdentifier{HashedEmail: conv.HashedEmail})
	}
	if conv.HashedFirstName != "" && conv.HashedLastName != "" {
		cc.UserIdentifiers = append(cc.UserIdentifiers, userIdentifier{
			AddressInfo: &addressInfo{
				HashedFirstName: conv.HashedFirstName,
				HashedLastName:  conv.HashedLastName,
				City:            conv.City,
				State:           conv.State,
				CountryCode:     conv.CountryCode,
				PostalCode:      conv.PostalCode,
			},
		})
	}
	return cc
}

// submitChunk posts one chunk and fills chunkResults for the indices in
// indexMap. events carries (eventID) per chunk position for error
// reporting.
func (c *Client) submitChunk(ctx context.Context, method string, body map[string]any, field string, events interface{ eventID(int) string }, indexMap []int, chunkResults []uploader.Result) {
	if len(indexMap) == 0 {
		return
	}

	url := fmt.Sprintf("%s/customers/%s:%s", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.CustomerID, method)
	respBody, status, err := c.post(ctx, url, body)
	if err != nil {
		c.log.Error("Google Ads request failed",
			zap.String("method", method),
			zap.Error(err))
		for _, i := range indexMap {
			chunkResults[i] = uploader.Result{
				EventID: events.eventID(i),
				Reason:  uploader.ReasonTransient,
				Message: err.Error(),
			}
		}
		return
	}

	if status != http.StatusOK {
		reason := classifyStatus(status)
		message := fmt.Sprintf("HTTP %d: %s", status, truncateBody(respBody))
		c.log.Error("Google Ads request rejected",
			zap.String("method", method),
			zap.Int("status", status))
		for _, i := range indexMap {
			chunkResults[i] = uploader.Result{
				EventID: events.eventID(i),
				Reason:  reason,
				Message: message,
			}
		}
		return
	}

	failures := parsePartialFailure(respBody, field)
	for pos, i := range indexMap {
		if msg, failed := failures[pos]; failed {
			chunkResults[i] = uploader.Result{
				EventID: events.eventID(i),
				Reason:  classifyError(msg),
				Message: msg,
			}
			continue
		}
		chunkResults[i] = uploader.Result{
			EventID: events.eventID(i),
			OK:      true,
			Message: "OK",
		}
	}
}

// resolveAction looks up the resource name of a conversion action by
// display name, caching the answer for the rest of the run.
func (c *Client) resolveAction(ctx context.Context, name string) (string, error) {
	if resource, ok := c.actions[name]; ok {
		if resource == "" {
			return "", fmt.Errorf("conversion action %q not found", name)
		}
		return resource, nil
	}

	query := fmt.Sprintf(
		"SELECT conversion_action.resource_name FROM conversion_action WHERE conversion_action.name = '%s'",
		strings.ReplaceAll(name, "'", "\\'"))
	url := fmt.Sprintf("%s/customers/%s/googleAds:search", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.CustomerID)

	respBody, status, err := c.post(ctx, url, map[string]any{"query": query})
	if err != nil {
		return "", fmt.Errorf("failed to resolve conversion action %q: %w", name, err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("failed to resolve conversion action %q: HTTP %d", name, status)
	}

	var parsed struct {
		Results []struct {
			ConversionAction struct {
				ResourceName string `json:"resourceName"`
			} `json:"conversionAction"`
		} `json:"results"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode conversion action search response: %w", err)
	}
	if len(parsed.Results) == 0 {
		// Negative result is cached too so a misconfigured action is
		// looked up once, not once per record.
		c.actions[name] = ""
		return "", fmt.Errorf("conversion action %q not found", name)
	}

	resource := parsed.Results[0].ConversionAction.ResourceName
	c.actions[name] = resource
	c.log.Debug("Resolved conversion action",
		zap.String("name", name),
		zap.String("resource", resource))
	return resource, nil
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
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("developer-token", c.cfg.DeveloperToken)
	if c.cfg.LoginCustomerID != "" {
		req.Header.Set("login-customer-id", c.cfg.LoginCustomerID)
	}

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

// parsePartialFailure extracts per-record errors from a partial failure
// response. Keys are payload indices within the chunk.
func parsePartialFailure(body []byte, field string) map[int]string {
	var parsed struct {
		PartialFailureError *struct {
			Details []struct {
				Errors []struct {
					Message  string `json:"message"`
					Location struct {
						FieldPathElements []struct {
							FieldName string `json:"fieldName"`
							Index     int    `json:"index"`
						} `json:"fieldPathElements"`
					} `json:"location"`
				} `json:"errors"`
			} `json:"details"`
		} `json:"partialFailureError"`
	}

	failures := make(map[int]string)
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.PartialFailureError == nil {
		return failures
	}

	for _, detail := range parsed.PartialFailureError.Details {
		for _, apiErr := range detail.Errors {
			for _, element := range apiErr.Location.FieldPathElements {
				if element.FieldName == field {
					failures[element.Index] = apiErr.Message
				}
			}
		}
	}
	return failures
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

// classifyError maps a partial failure message to a failure reason. The
// API reports click id problems with stable error enum names embedded
// in the message text.
func classifyError(message string) uploader.FailureReason {
	upper := strings.ToUpper(message)
	switch {
	case strings.Contains(upper, "EXPIRED"):
		return uploader.ReasonExpiredClick
	case strings.Contains(upper, "GCLID"), strings.Contains(upper, "CLICK_NOT_FOUND"):
		return uploader.ReasonInvalidClick
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

type conversionEvents []uploader.Conversion

func (e conversionEvents) eventID(i int) string { return e[i].EventID }

type retractionEvents []uploader.Retraction

func (e retractionEvents) eventID(i int) string { return e[i].EventID }

func chunkConversions(conversions []uploader.Conversion) []conversionEvents {
	var out []conversionEvents
	for start := 0; start < len(conversions); start += batchSize {
		end := start + batchSize
		if end > len(conversions) {
			end = len(conversions)
		}
		out = append(out, conversionEvents(conversions[start:end]))
	}
	return out
}

func chunkRetractions(retractions []uploader.Retraction) []retractionEvents {
	var out []retractionEvents
	for start := 0; start < len(retractions); start += batchSize {
		end := start + batchSize
		if end > len(retractions) {
			end = len(retractions)
		}
		out = append(out, retractionEvents(retractions[start:end]))
	}
	return out
}
