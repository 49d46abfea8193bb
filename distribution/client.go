package distribution

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Co-Epi/coepi-core/protocol"
)

// ReportList is the GET /reports response body.
type ReportList struct {
	Reports []*protocol.SignedReport `json:"reports"`
}

// Client talks to one report distribution service over HTTP. Each method is
// a single attempt; retry policy belongs to the caller.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the service at baseURL (no trailing slash
// required).
func NewClient(baseURL string, timeout time.Duration) *Client {
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// FetchReports downloads every report posted in the given interval. The whole
// response is read and decoded before anything is returned, so a connection
// dropped mid-body surfaces as an error instead of a short list.
func (c *Client) FetchReports(ctx context.Context, interval protocol.Interval) ([]*protocol.SignedReport, error) {
	url := fmt.Sprintf("%s/reports?intervalNumber=%d&intervalLength=%d",
		c.baseURL, interval.Number, interval.Length)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, protocol.Networkf("fetch reports", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, protocol.Networkf("fetch reports", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, protocol.Networkf("fetch reports",
			fmt.Errorf("interval %d: unexpected status %s", interval.Number, resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, protocol.Networkf("fetch reports", err)
	}
	list, err := protocol.UnmarshalMessage[ReportList](body)
	if err != nil {
		return nil, protocol.Networkf("fetch reports", fmt.Errorf("decode response: %w", err))
	}
	return list.Reports, nil
}

// PostReport publishes a signed report to the service.
func (c *Client) PostReport(ctx context.Context, report *protocol.SignedReport) error {
	payload, err := protocol.SerializeMessage(report)
	if err != nil {
		return protocol.Networkf("post report", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/reports", bytes.NewReader(payload))
	if err != nil {
		return protocol.Networkf("post report", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return protocol.Networkf("post report", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return protocol.Networkf("post report", fmt.Errorf("unexpected status %s", resp.Status))
	}
	return nil
}

// ParseIntervalQuery parses the interval addressing parameters used by
// FetchReports' query encoding; the server side uses it to decode requests.
func ParseIntervalQuery(number, length string) (protocol.Interval, error) {
	n, err := strconv.ParseUint(number, 10, 32)
	if err != nil {
		return protocol.Interval{}, protocol.Validationf("intervalNumber", "not a number: %q", number)
	}
	l, err := strconv.ParseUint(length, 10, 32)
	if err != nil || l == 0 {
		return protocol.Interval{}, protocol.Validationf("intervalLength", "not a positive number: %q", length)
	}
	return protocol.Interval{Number: uint32(n), Length: uint32(l)}, nil
}
