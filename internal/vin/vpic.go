package vin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// VPICDecoder decodes VINs through the NHTSA vPIC API. Results are cached for
// the life of the decoder and requests are rate limited.
type VPICDecoder struct {
	BaseURL string
	Client  *http.Client
	Limiter *rate.Limiter

	mu    sync.Mutex
	cache map[string]Vehicle
}

type vpicResponse struct {
	Count   int          `json:"Count"`
	Message string       `json:"Message"`
	Results []vpicResult `json:"Results"`
}

type vpicResult struct {
	Make      string `json:"Make"`
	Model     string `json:"Model"`
	ModelYear string `json:"ModelYear"`
	ErrorCode string `json:"ErrorCode"`
}

// NewVPICDecoder allows rps requests per second with a burst of one.
func NewVPICDecoder(baseURL string, rps float64) *VPICDecoder {
	if baseURL == "" {
		baseURL = "https://vpic.nhtsa.dot.gov/api"
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &VPICDecoder{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
		Limiter: rate.NewLimiter(limit, 1),
		cache:   map[string]Vehicle{},
	}
}

func (d *VPICDecoder) Decode(ctx context.Context, vin string) (Vehicle, error) {
	v, err := Normalize(vin)
	if err != nil {
		return Vehicle{}, err
	}

	d.mu.Lock()
	if cached, ok := d.cache[v]; ok {
		d.mu.Unlock()
		return cached, nil
	}
	d.mu.Unlock()

	if d.Limiter != nil {
		if err := d.Limiter.Wait(ctx); err != nil {
			return Vehicle{}, err
		}
	}

	endpoint := fmt.Sprintf("%s/vehicles/DecodeVinValues/%s?format=json", d.BaseURL, url.PathEscape(v))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Vehicle{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return Vehicle{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Vehicle{}, fmt.Errorf("vpic http error: %s", resp.Status)
	}

	var body vpicResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Vehicle{}, err
	}
	vehicle, err := parseVPICResults(body.Results)
	if err != nil {
		return Vehicle{}, err
	}

	d.mu.Lock()
	d.cache[v] = vehicle
	d.mu.Unlock()
	return vehicle, nil
}

func parseVPICResults(results []vpicResult) (Vehicle, error) {
	if len(results) == 0 {
		return Vehicle{}, ErrNotFound
	}
	r := results[0]
	vehicle := Vehicle{
		Make:  titleCase(strings.TrimSpace(r.Make)),
		Model: strings.TrimSpace(r.Model),
	}
	if y, err := strconv.Atoi(strings.TrimSpace(r.ModelYear)); err == nil {
		vehicle.Year = y
	}
	if vehicle == (Vehicle{}) {
		return Vehicle{}, ErrNotFound
	}
	return vehicle, nil
}

// titleCase turns vPIC's upper-case makes ("MERCEDES-BENZ") into the form
// estimates use ("Mercedes-Benz"). Short all-caps makes such as BMW stay as-is.
func titleCase(s string) string {
	if len(s) <= 3 {
		return s
	}
	b := []byte(strings.ToLower(s))
	upper := true
	for i, c := range b {
		if upper && c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
		upper = c == ' ' || c == '-'
	}
	return string(b)
}
