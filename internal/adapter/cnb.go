package adapter

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/types"
)

const cnbDailyURL = "https://www.cnb.cz/cs/financni_trhy/devizovy_trh/kurzy_devizoveho_trhu/denni_kurz.xml"

// cnbRates is the daily fixing document: <kurzy><tabulka><radek .../></tabulka></kurzy>
type cnbRates struct {
	XMLName xml.Name `xml:"kurzy"`
	Date    string   `xml:"datum,attr"`
	Table   struct {
		Rows []struct {
			Code   string `xml:"kod,attr"`
			Rate   string `xml:"kurz,attr"`
			Amount string `xml:"mnozstvi,attr"`
		} `xml:"radek"`
	} `xml:"tabulka"`
}

// CNBClient downloads the Czech National Bank daily FX fixing (CZK per unit)
type CNBClient struct {
	http    *HTTPClient
	baseURL string
}

// NewCNBClient creates a client. An empty baseURL uses the public feed.
func NewCNBClient(client *HTTPClient, baseURL string) *CNBClient {
	if baseURL == "" {
		baseURL = cnbDailyURL
	}
	return &CNBClient{http: client, baseURL: baseURL}
}

func (c *CNBClient) Name() string { return string(types.SourceCNB) }

// FetchDaily returns the fixing published for date. Every rate is stamped
// with the requested date, so a weekend request stores the preceding fixing
// under the weekend day.
func (c *CNBClient) FetchDaily(ctx context.Context, date time.Time) ([]models.FxRate, error) {
	u := c.baseURL + "?date=" + url.QueryEscape(date.Format("02.01.2006"))
	body, err := c.http.Get(ctx, u, nil)
	if err != nil {
		return nil, NewProviderError(c.Name(), "FetchDaily", date.Format("2006-01-02"), err, nil)
	}
	rates, err := parseCNBRates(body, date)
	if err != nil {
		return nil, NewProviderError(c.Name(), "FetchDaily", date.Format("2006-01-02"), err, nil)
	}
	return rates, nil
}

func parseCNBRates(body []byte, date time.Time) ([]models.FxRate, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel

	var doc cnbRates
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	rates := make([]models.FxRate, 0, len(doc.Table.Rows))
	for _, row := range doc.Table.Rows {
		code := strings.ToUpper(strings.TrimSpace(row.Code))
		rate, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(row.Rate), ",", "."), 64)
		if code == "" || err != nil || rate <= 0 {
			continue
		}
		amount, err := strconv.Atoi(strings.TrimSpace(row.Amount))
		if err != nil || amount <= 0 {
			amount = 1
		}
		rates = append(rates, models.FxRate{
			Currency: code,
			Date:     day,
			Rate:     rate,
			Amount:   amount,
			Source:   types.SourceCNB,
		})
	}
	if len(rates) == 0 {
		return nil, fmt.Errorf("%w: no rates in fixing", ErrNotFound)
	}
	return rates, nil
}
