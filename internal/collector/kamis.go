package collector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

// KamisFetcher fetches price listings from a KAMIS-style open API that
// returns the standard response/header/body JSON envelope.
type KamisFetcher struct {
	BaseURL     string
	CertKey     string
	CertID      string
	RowsPerPage int
	Client      *http.Client
}

// NewKamisFetcher creates a fetcher with optional proxy support.
func NewKamisFetcher(baseURL, certKey, certID string, rowsPerPage int, proxyURL string) *KamisFetcher {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if rowsPerPage <= 0 {
		rowsPerPage = 100
	}
	return &KamisFetcher{
		BaseURL:     baseURL,
		CertKey:     certKey,
		CertID:      certID,
		RowsPerPage: rowsPerPage,
		Client:      &http.Client{Transport: transport},
	}
}

func (f *KamisFetcher) Name() string { return "kamis" }

type kamisEnvelope struct {
	Response *struct {
		Header struct {
			ResultCode string `json:"resultCode"`
			ResultMsg  string `json:"resultMsg"`
		} `json:"header"`
		Body *struct {
			Items      []kamisItem `json:"items"`
			PageNo     int         `json:"pageNo"`
			NumOfRows  int         `json:"numOfRows"`
			TotalCount int         `json:"totalCount"`
		} `json:"body"`
	} `json:"response"`
}

type kamisItem struct {
	ItemCode   flexString `json:"itemcode"`
	MarketCode flexString `json:"marketcode"`
	RegDay     flexString `json:"regday"`
	Price      flexString `json:"price"`
	Unit       flexString `json:"unit"`
	Source     flexString `json:"source"`
}

// flexString accepts a JSON string or number. Prices arrive as either.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

func (f *KamisFetcher) endpoint(q Query, page int) string {
	params := url.Values{}
	params.Set("p_cert_key", f.CertKey)
	params.Set("p_cert_id", f.CertID)
	params.Set("p_returntype", "json")
	if len(q.ItemCodes) > 0 {
		params.Set("p_itemcode", strings.Join(q.ItemCodes, ","))
	}
	if len(q.MarketCodes) > 0 {
		params.Set("p_countycode", strings.Join(q.MarketCodes, ","))
	}
	if !q.StartDate.IsZero() {
		params.Set("p_startday", q.StartDate.Format(model.DateLayout))
	}
	if !q.EndDate.IsZero() {
		params.Set("p_endday", q.EndDate.Format(model.DateLayout))
	}
	params.Set("pageNo", strconv.Itoa(page))
	params.Set("numOfRows", strconv.Itoa(f.RowsPerPage))
	return f.BaseURL + "?" + params.Encode()
}

// FetchPage performs a single request. Retries are the caller's concern.
func (f *KamisFetcher) FetchPage(ctx context.Context, q Query, page int) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint(q, page), nil)
	if err != nil {
		return nil, eris.Wrap(err, "kamis: build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{StatusCode: resp.StatusCode, Err: err}
	}

	switch {
	case IsTransientHTTPStatus(resp.StatusCode):
		return nil, &NetworkError{StatusCode: resp.StatusCode, Err: errors.New(truncate(body, 200))}
	case resp.StatusCode >= 400:
		return nil, &ClientError{StatusCode: resp.StatusCode, Message: truncate(body, 200)}
	case resp.StatusCode != http.StatusOK:
		return nil, &ClientError{StatusCode: resp.StatusCode, Message: "unexpected status"}
	}

	var env kamisEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &MalformedResponseError{Page: page, Err: err}
	}
	if env.Response == nil {
		return nil, &MalformedResponseError{Page: page, Err: errors.New("missing response object")}
	}
	switch env.Response.Header.ResultCode {
	case "", "00", "0000":
	default:
		return nil, &ClientError{
			StatusCode: resp.StatusCode,
			ResultCode: env.Response.Header.ResultCode,
			Message:    env.Response.Header.ResultMsg,
		}
	}
	if env.Response.Body == nil {
		return nil, &MalformedResponseError{Page: page, Err: errors.New("missing body object")}
	}

	b := env.Response.Body
	out := &Page{Index: page, TotalCount: b.TotalCount, PageSize: b.NumOfRows}
	if out.PageSize <= 0 {
		out.PageSize = f.RowsPerPage
	}
	out.Records = make([]model.RawRecord, 0, len(b.Items))
	for i, it := range b.Items {
		source := string(it.Source)
		if source == "" {
			source = f.Name()
		}
		out.Records = append(out.Records, model.RawRecord{
			ItemCode:   strings.TrimSpace(string(it.ItemCode)),
			MarketCode: strings.TrimSpace(string(it.MarketCode)),
			Date:       strings.TrimSpace(string(it.RegDay)),
			Price:      strings.TrimSpace(string(it.Price)),
			Unit:       strings.TrimSpace(string(it.Unit)),
			Source:     source,
			PageIndex:  page,
			Seq:        i,
		})
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
