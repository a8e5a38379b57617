package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/coursegrab/internal/course"
	"github.com/example/coursegrab/internal/internaltypes"
	"github.com/example/coursegrab/internal/obs"
	"github.com/example/coursegrab/internal/ratelimit"
)

const (
	listPath   = "/xsxk/elective/shu/clazz/list"
	claimPath  = "/xsxk/elective/shu/clazz/add"
	verifyPath = "/test"

	classType = "XGKC"

	DefaultTimeout = 10 * time.Second
)

// ErrRejected means the portal answered a claim but refused it, usually
// because the seat went to someone else first.
var ErrRejected = errors.New("claim rejected")

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Safari/605.1.15",
}

// SeatRow is one teaching class returned by a list query.
type SeatRow struct {
	Selected    int
	Capacity    int
	ClaimID     string
	ClaimSecret string
}

func (r SeatRow) HasSeat() bool { return r.Selected < r.Capacity }

// Client talks to the registration portal. Every request passes through the
// limiter first.
type Client struct {
	hc      *http.Client
	base    string
	limiter *ratelimit.Window
	metrics *obs.Metrics
}

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	Limiter    *ratelimit.Window
	Metrics    *obs.Metrics
	HTTPClient *http.Client
}

func New(opt Options) *Client {
	hc := opt.HTTPClient
	if hc == nil {
		timeout := opt.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		hc:      hc,
		base:    strings.TrimRight(opt.BaseURL, "/"),
		limiter: opt.Limiter,
		metrics: opt.Metrics,
	}
}

type envelope struct {
	Code *int            `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type listData struct {
	List *struct {
		Rows []json.RawMessage `json:"rows"`
	} `json:"list"`
}

type rawRow struct {
	Selected *int   `json:"numberOfSelected"`
	Capacity *int   `json:"classCapacity"`
	ClaimID  string `json:"JXBID"`
	Secret   string `json:"secretVal"`
}

// List queries the seat rows for a course. Rows missing any required field
// are dropped and counted in skipped.
func (c *Client) List(ctx context.Context, token string, crs course.Course) (rows []SeatRow, skipped int, err error) {
	form := url.Values{}
	form.Set("teachingClassType", classType)
	form.Set("pageNumber", "1")
	form.Set("pageSize", "10")
	form.Set("KCH", crs.Code)
	form.Set("JSH", crs.Section)

	status, body, err := c.do(ctx, "list", http.MethodPost, listPath, token, form)
	if err != nil {
		return nil, 0, err
	}
	env, err := checkStatus("list", status, body)
	if err != nil {
		return nil, 0, err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, 0, nil
	}
	var data listData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, 0, fmt.Errorf("%w: list: decode data: %v", internaltypes.ErrTransient, err)
	}
	if data.List == nil {
		return nil, 0, nil
	}
	for _, raw := range data.List.Rows {
		var r rawRow
		if err := json.Unmarshal(raw, &r); err != nil || r.Selected == nil || r.Capacity == nil || r.ClaimID == "" || r.Secret == "" {
			skipped++
			continue
		}
		rows = append(rows, SeatRow{Selected: *r.Selected, Capacity: *r.Capacity, ClaimID: r.ClaimID, ClaimSecret: r.Secret})
	}
	return rows, skipped, nil
}

// Claim submits a registration request for row. A nil error means the seat
// is ours: HTTP 200 with body code 200. A body without a code is a rejection.
func (c *Client) Claim(ctx context.Context, token string, row SeatRow) error {
	form := url.Values{}
	form.Set("clazzId", row.ClaimID)
	form.Set("secretVal", row.ClaimSecret)
	form.Set("clazzType", classType)

	status, body, err := c.do(ctx, "claim", http.MethodPost, claimPath, token, form)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		return fmt.Errorf("%w: claim: status 401", internaltypes.ErrAuthExpired)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: claim: status %d", internaltypes.ErrTransient, status)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("%w: claim: empty body", internaltypes.ErrTransient)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: claim: decode: %v", internaltypes.ErrTransient, err)
	}
	switch {
	case env.Code == nil:
		return fmt.Errorf("%w: no result code: %s", ErrRejected, env.Msg)
	case *env.Code == http.StatusOK:
		return nil
	case *env.Code == http.StatusUnauthorized:
		return fmt.Errorf("%w: claim: code 401", internaltypes.ErrAuthExpired)
	default:
		return fmt.Errorf("%w: code %d: %s", ErrRejected, *env.Code, env.Msg)
	}
}

// Verify implements auth.Verifier: a token is good when the portal's test
// endpoint answers 200.
func (c *Client) Verify(ctx context.Context, token string) error {
	status, _, err := c.do(ctx, "verify", http.MethodGet, verifyPath, token, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: verify: status 401", internaltypes.ErrAuthExpired)
	default:
		return fmt.Errorf("verify: status %d", status)
	}
}

func checkStatus(endpoint string, status int, body []byte) (envelope, error) {
	if status == http.StatusUnauthorized {
		return envelope{}, fmt.Errorf("%w: %s: status 401", internaltypes.ErrAuthExpired, endpoint)
	}
	if status != http.StatusOK {
		return envelope{}, fmt.Errorf("%w: %s: status %d", internaltypes.ErrTransient, endpoint, status)
	}
	var env envelope
	if len(bytes.TrimSpace(body)) == 0 {
		return envelope{}, fmt.Errorf("%w: %s: empty body", internaltypes.ErrTransient, endpoint)
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %s: decode: %v", internaltypes.ErrTransient, endpoint, err)
	}
	if env.Code != nil {
		switch *env.Code {
		case http.StatusOK:
		case http.StatusUnauthorized:
			return envelope{}, fmt.Errorf("%w: %s: code 401", internaltypes.ErrAuthExpired, endpoint)
		default:
			return envelope{}, fmt.Errorf("%w: %s: code %d: %s", internaltypes.ErrTransient, endpoint, *env.Code, env.Msg)
		}
	}
	return env, nil
}

func (c *Client) do(ctx context.Context, endpoint, method, path, token string, form url.Values) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	res, err := c.hc.Do(req)
	c.metrics.ObserveRequest(endpoint, start)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, fmt.Errorf("%w: %s: %v", internaltypes.ErrTransient, endpoint, err)
	}
	defer res.Body.Close()
	b, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return res.StatusCode, nil, fmt.Errorf("%w: %s: read body: %v", internaltypes.ErrTransient, endpoint, err)
	}
	return res.StatusCode, b, nil
}
