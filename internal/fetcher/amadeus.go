package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	tokenPath  = "/v1/security/oauth2/token"
	searchPath = "/v2/shopping/flight-offers"
)

// AmadeusOptions parameterise the flight-offers client.
type AmadeusOptions struct {
	BaseURL        string
	APIKey         string
	APISecret      string
	RequestTimeout time.Duration
	AuthTimeout    time.Duration
	UserAgent      string
}

// Amadeus 通过 Amadeus Self-Service API 查询往返商务舱报价。
// Token 过期时仅做一次重新鉴权并重试同一请求。
type Amadeus struct {
	opts    AmadeusOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string

	tokenMux sync.Mutex
	token    string
}

// NewAmadeus constructs an Amadeus client.
func NewAmadeus(opts AmadeusOptions, logger zerolog.Logger) *Amadeus {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 40 * time.Second
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 20 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://test.api.amadeus.com"
	}

	return &Amadeus{
		opts:    opts,
		logger:  logger.With().Str("component", "amadeus_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// authenticate exchanges client credentials for a bearer token.
func (a *Amadeus) authenticate(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {a.opts.APIKey},
		"client_secret": {a.opts.APISecret},
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.AuthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, payload)
	}

	var tokenRes struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(payload, &tokenRes); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	if tokenRes.AccessToken == "" {
		return errors.New("token response missing access_token")
	}

	a.tokenMux.Lock()
	a.token = tokenRes.AccessToken
	a.tokenMux.Unlock()

	a.logger.Debug().Int("expires_in", tokenRes.ExpiresIn).Msg("鉴权成功，token 已更新")
	return nil
}

func (a *Amadeus) bearer() string {
	a.tokenMux.Lock()
	defer a.tokenMux.Unlock()
	return a.token
}

// SearchRoundtripBusiness 查询指定日期组合的往返商务舱报价。
func (a *Amadeus) SearchRoundtripBusiness(ctx context.Context, origin, dest, depDate, retDate string, maxStops int) (*SearchResponse, error) {
	if a.opts.APIKey == "" || a.opts.APISecret == "" {
		return nil, errors.New("amadeus api key/secret not configured")
	}

	body, err := json.Marshal(buildSearchRequest(origin, dest, depDate, retDate, maxStops))
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	if a.bearer() == "" {
		if err := a.authenticate(ctx); err != nil {
			return nil, err
		}
	}

	status, payload, err := a.doSearch(ctx, body)
	if err != nil {
		return nil, err
	}

	// 401 means the token expired: exactly one re-auth and one retry.
	if status == http.StatusUnauthorized {
		if err := a.authenticate(ctx); err != nil {
			return nil, err
		}
		status, payload, err = a.doSearch(ctx, body)
		if err != nil {
			return nil, err
		}
	}

	if status < 200 || status >= 300 {
		return nil, parseAPIError(status, payload)
	}

	var result SearchResponse
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	a.logger.Debug().
		Str("origin", origin).Str("dest", dest).
		Str("dep", depDate).Str("ret", retDate).
		Int("offers", len(result.Data)).
		Msg("flight offers fetched")
	return &result, nil
}

func (a *Amadeus) doSearch(ctx context.Context, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.bearer())
	if ua := strings.TrimSpace(a.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "farehunter/1.0")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("send search request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read search response: %w", err)
	}
	return resp.StatusCode, payload, nil
}

func buildSearchRequest(origin, dest, depDate, retDate string, maxStops int) searchRequest {
	return searchRequest{
		CurrencyCode: "USD",
		OriginDestinations: []originDestination{
			{
				ID:                     "1",
				OriginLocationCode:     origin,
				DestinationLocation:    dest,
				DepartureDateTimeRange: dateRange{Date: depDate},
			},
			{
				ID:                     "2",
				OriginLocationCode:     dest,
				DestinationLocation:    origin,
				DepartureDateTimeRange: dateRange{Date: retDate},
			},
		},
		Travelers: []traveler{{ID: "1", TravelerType: "ADULT"}},
		Sources:   []string{"GDS"},
		SearchCriteria: searchCriteria{
			MaxFlightOffers: 40,
			FlightFilters: flightFilters{
				CabinRestrictions: []cabinRestriction{{
					Cabin:                "BUSINESS",
					Coverage:             "MOST_SEGMENTS",
					OriginDestinationIDs: []string{"1", "2"},
				}},
				ConnectionRestriction: connectionRestriction{MaxNumberOfConnections: maxStops},
			},
		},
	}
}

type searchRequest struct {
	CurrencyCode       string              `json:"currencyCode"`
	OriginDestinations []originDestination `json:"originDestinations"`
	Travelers          []traveler          `json:"travelers"`
	Sources            []string            `json:"sources"`
	SearchCriteria     searchCriteria      `json:"searchCriteria"`
}

type originDestination struct {
	ID                     string    `json:"id"`
	OriginLocationCode     string    `json:"originLocationCode"`
	DestinationLocation    string    `json:"destinationLocationCode"`
	DepartureDateTimeRange dateRange `json:"departureDateTimeRange"`
}

type dateRange struct {
	Date string `json:"date"`
}

type traveler struct {
	ID           string `json:"id"`
	TravelerType string `json:"travelerType"`
}

type searchCriteria struct {
	MaxFlightOffers int           `json:"maxFlightOffers"`
	FlightFilters   flightFilters `json:"flightFilters"`
}

type flightFilters struct {
	CabinRestrictions     []cabinRestriction    `json:"cabinRestrictions"`
	ConnectionRestriction connectionRestriction `json:"connectionRestriction"`
}

type cabinRestriction struct {
	Cabin                string   `json:"cabin"`
	Coverage             string   `json:"coverage"`
	OriginDestinationIDs []string `json:"originDestinationIds"`
}

type connectionRestriction struct {
	MaxNumberOfConnections int `json:"maxNumberOfConnections"`
}

type apiErrorResponse struct {
	Errors []struct {
		Status int    `json:"status"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Code   int    `json:"code"`
	} `json:"errors"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func parseAPIError(status int, payload []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if len(apiErr.Errors) > 0 {
			first := apiErr.Errors[0]
			if first.Detail != "" {
				return fmt.Errorf("amadeus api error (%d): %s", status, first.Detail)
			}
			if first.Title != "" {
				return fmt.Errorf("amadeus api error (%d): %s", status, first.Title)
			}
		}
		if apiErr.ErrorDescription != "" {
			return fmt.Errorf("amadeus api error (%d): %s", status, apiErr.ErrorDescription)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("amadeus api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("amadeus api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("amadeus api error (%d)", status)
}

var _ FlightSearcher = (*Amadeus)(nil)
