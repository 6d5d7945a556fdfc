// Package sam is a minimal client for the SAM.gov Get Opportunities public
// API: key-authenticated search with offset paging and optional description
// hydration.
package sam

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fedmatch/internal/model"
	"github.com/sells-group/fedmatch/internal/resilience"
)

// Client defines the SAM.gov operations used by notice ingestion.
type Client interface {
	Fetch(ctx context.Context, q FetchQuery) ([]model.Notice, error)
}

// FetchQuery holds the parameters for one notice fetch. Zero-value dates
// default to the last 30 days; the API rejects requests without a posted
// date window.
type FetchQuery struct {
	PostedFrom         time.Time
	PostedTo           time.Time
	NAICSCode          string
	ClassificationCode string
	SolicitationNumber string
	NoticeID           string
	MaxRecords         int
	WithDescriptions   bool
}

// Config holds connection settings.
type Config struct {
	BaseURL string
	Key     string
}

type httpClient struct {
	cfg Config
	hc  *http.Client
}

// pageSize is the per-request limit; the API caps limit at 1000 but large
// pages time out in practice.
const pageSize = 100

// New creates a SAM.gov client.
func New(cfg Config) Client {
	return &httpClient{
		cfg: cfg,
		hc:  &http.Client{Timeout: 30 * time.Second},
	}
}

// noticeRecord is the wire shape of one opportunitiesData entry.
type noticeRecord struct {
	NoticeID           string `json:"noticeId"`
	Title              string `json:"title"`
	SolicitationNumber string `json:"solicitationNumber"`
	FullParentPathName string `json:"fullParentPathName"`
	NAICSCode          string `json:"naicsCode"`
	ClassificationCode string `json:"classificationCode"`
	SetAside           string `json:"typeOfSetAside"`
	PostedDate         string `json:"postedDate"`
	ResponseDeadline   string `json:"responseDeadLine"`
	Description        string `json:"description"`
	UILink             string `json:"uiLink"`
	PlaceOfPerformance struct {
		City struct {
			Name string `json:"name"`
		} `json:"city"`
		State struct {
			Code string `json:"code"`
		} `json:"state"`
	} `json:"placeOfPerformance"`
}

type fetchResponse struct {
	TotalRecords int            `json:"totalRecords"`
	Data         []noticeRecord `json:"opportunitiesData"`
}

// Fetch pages through the opportunities endpoint until the query window is
// exhausted or MaxRecords is reached. Records without a notice id are dropped.
func (c *httpClient) Fetch(ctx context.Context, q FetchQuery) ([]model.Notice, error) {
	if q.PostedFrom.IsZero() {
		q.PostedFrom = time.Now().AddDate(0, 0, -30)
	}
	if q.PostedTo.IsZero() {
		q.PostedTo = time.Now()
	}

	var notices []model.Notice
	offset := 0
	for {
		page, total, err := c.fetchPage(ctx, q, offset)
		if err != nil {
			return nil, err
		}
		for i := range page {
			rec := &page[i]
			if rec.NoticeID == "" {
				continue
			}
			n := toNotice(rec)
			if q.WithDescriptions && rec.Description != "" {
				n.Description = c.description(ctx, rec)
			}
			notices = append(notices, *n)
			if q.MaxRecords > 0 && len(notices) >= q.MaxRecords {
				return notices, nil
			}
		}

		offset += len(page)
		if len(page) == 0 || offset >= total {
			return notices, nil
		}
	}
}

func (c *httpClient) fetchPage(ctx context.Context, q FetchQuery, offset int) ([]noticeRecord, int, error) {
	params := url.Values{}
	params.Set("api_key", c.cfg.Key)
	params.Set("limit", strconv.Itoa(pageSize))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("postedFrom", q.PostedFrom.Format("01/02/2006"))
	params.Set("postedTo", q.PostedTo.Format("01/02/2006"))
	if q.NAICSCode != "" {
		params.Set("ncode", q.NAICSCode)
	}
	if q.ClassificationCode != "" {
		params.Set("ccode", q.ClassificationCode)
	}
	if q.SolicitationNumber != "" {
		params.Set("solnum", q.SolicitationNumber)
	}
	if q.NoticeID != "" {
		params.Set("noticeid", q.NoticeID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sam: build fetch request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, resilience.NewTransientError(eris.Wrap(err, "sam: fetch request"), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, 0, eris.Wrap(err, "sam: read fetch response")
	}
	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("sam: fetch failed: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, 0, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, 0, err
	}

	var fr fetchResponse
	if err := json.Unmarshal(body, &fr); err != nil {
		return nil, 0, eris.Wrap(err, "sam: parse fetch response")
	}
	return fr.Data, fr.TotalRecords, nil
}

// description resolves the description URL carried on a record. The v2 API
// returns a link, not the text. Failures degrade to an empty description
// rather than failing the whole fetch.
func (c *httpClient) description(ctx context.Context, rec *noticeRecord) string {
	u := rec.Description
	if strings.Contains(u, "?") {
		u += "&api_key=" + url.QueryEscape(c.cfg.Key)
	} else {
		u += "?api_key=" + url.QueryEscape(c.cfg.Key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		zap.L().Warn("sam: bad description url", zap.String("notice_id", rec.NoticeID), zap.Error(err))
		return ""
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		zap.L().Warn("sam: description fetch failed", zap.String("notice_id", rec.NoticeID), zap.Error(err))
		return ""
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil || resp.StatusCode != http.StatusOK {
		zap.L().Warn("sam: description fetch failed",
			zap.String("notice_id", rec.NoticeID), zap.Int("status", resp.StatusCode))
		return ""
	}

	var d struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &d); err != nil {
		return ""
	}
	return d.Description
}

// toNotice maps a wire record to the domain Notice. The department is the
// first segment of the dotted agency path.
func toNotice(rec *noticeRecord) *model.Notice {
	department := rec.FullParentPathName
	if idx := strings.Index(department, "."); idx >= 0 {
		department = department[:idx]
	}

	return &model.Notice{
		NoticeID:           rec.NoticeID,
		Title:              rec.Title,
		Department:         department,
		SolicitationNumber: rec.SolicitationNumber,
		ClassificationCode: rec.ClassificationCode,
		NAICSCode:          rec.NAICSCode,
		SetAside:           rec.SetAside,
		PlaceOfPerformance: placeOfPerformance(rec),
		PostedDate:         parseSAMTime(rec.PostedDate),
		ResponseDeadline:   parseSAMTime(rec.ResponseDeadline),
		Link:               rec.UILink,
	}
}

// placeOfPerformance flattens the nested city/state object to "City, ST".
func placeOfPerformance(rec *noticeRecord) string {
	parts := make([]string, 0, 2)
	if c := rec.PlaceOfPerformance.City.Name; c != "" {
		parts = append(parts, c)
	}
	if s := rec.PlaceOfPerformance.State.Code; s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}

// samTimeFormats covers the date shapes the API emits: plain dates on
// postedDate, zoned timestamps on responseDeadLine.
var samTimeFormats = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

func parseSAMTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range samTimeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	zap.L().Debug("sam: unparseable timestamp", zap.String("value", s))
	return time.Time{}
}
