package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	wsdhttp "github.com/fyrsmithlabs/watershed/internal/http"
	"github.com/fyrsmithlabs/watershed/internal/pipeline"
)

// apiClient talks to a wsdd server.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// geoJSONQuery carries the point options for a GeoJSON submission.
type geoJSONQuery struct {
	ID        string
	IDField   string
	NameField string
	CRS       string
}

func (q geoJSONQuery) encode() string {
	v := url.Values{}
	for k, s := range map[string]string{
		"id":         q.ID,
		"id_field":   q.IDField,
		"name_field": q.NameField,
		"crs":        q.CRS,
	} {
		if s != "" {
			v.Set(k, s)
		}
	}
	return v.Encode()
}

// SubmitGeoJSON posts a point FeatureCollection.
func (c *apiClient) SubmitGeoJSON(ctx context.Context, body io.Reader, q geoJSONQuery) (*wsdhttp.SubmitResponse, error) {
	path := "/api/v1/batches"
	if qs := q.encode(); qs != "" {
		path += "?" + qs
	}
	var resp wsdhttp.SubmitResponse
	if err := c.do(ctx, http.MethodPost, path, wsdhttp.MIMEGeoJSON, body, http.StatusAccepted, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Submit posts a JSON batch.
func (c *apiClient) Submit(ctx context.Context, req wsdhttp.SubmitRequest) (*wsdhttp.SubmitResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	var resp wsdhttp.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/batches", "application/json", bytes.NewReader(data), http.StatusAccepted, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status fetches batch progress.
func (c *apiClient) Status(ctx context.Context, id string) (*wsdhttp.StatusResponse, error) {
	var resp wsdhttp.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/batches/"+url.PathEscape(id), "", nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Report fetches the final report of a finished batch.
func (c *apiClient) Report(ctx context.Context, id string) (*pipeline.Report, error) {
	var resp pipeline.Report
	if err := c.do(ctx, http.MethodGet, "/api/v1/batches/"+url.PathEscape(id)+"/report", "", nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GeoJSON copies the merged watersheds of a batch to w. With refs set it
// copies the referenced stream points instead.
func (c *apiClient) GeoJSON(ctx context.Context, id string, refs bool, w io.Writer) error {
	path := "/api/v1/batches/" + url.PathEscape(id) + "/geojson"
	if refs {
		path = "/api/v1/batches/" + url.PathEscape(id) + "/references"
	}
	resp, err := c.send(ctx, http.MethodGet, path, "", nil, http.StatusOK)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}

// Health checks the server.
func (c *apiClient) Health(ctx context.Context) (*wsdhttp.HealthResponse, error) {
	var resp wsdhttp.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", "", nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) do(ctx context.Context, method, path, contentType string, body io.Reader, want int, out any) error {
	resp, err := c.send(ctx, method, path, contentType, body, want)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *apiClient) send(ctx context.Context, method, path, contentType string, body io.Reader, want int) (*http.Response, error) {
	u := c.base + path
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", u, err)
	}
	if resp.StatusCode != want {
		defer resp.Body.Close()
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr != nil {
			return nil, fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return resp, nil
}
