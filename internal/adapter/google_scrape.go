package adapter

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/portfolio-tracker/internal/types"
)

const googleFinanceBaseURL = "https://www.google.com/finance/quote/"

// CSS classes of the quote page elements
const (
	googlePriceClass   = "YMlKec"
	googlePriceClass2  = "fxKbKc"
	googleNameClass    = "zzDege"
	googleCurrencyHint = "C5N78d"
)

var (
	changePercentRe = regexp.MustCompile(`\(([+\-−]?[0-9,.]+)%\)`)
	currencyInRe    = regexp.MustCompile(`Currency in ([A-Z]{3})`)
	currencyCodeRe  = regexp.MustCompile(`\b([A-Z]{3})\b`)
	nonNumericRe    = regexp.MustCompile(`[^\d.\-]`)
)

// exchangeCurrency is used when the page does not state a currency
var exchangeCurrency = map[string]string{
	"FRA": "EUR",
	"ETR": "EUR",
	"AMS": "EUR",
	"BIT": "EUR",
	"LON": "GBP",
	"SWX": "CHF",
	"TSE": "JPY",
}

// GoogleFinanceScraper reads quotes from the public Google Finance quote page.
// Symbols are exchange-qualified codes such as "AAPL:NASDAQ" or bare tickers.
type GoogleFinanceScraper struct {
	http    *HTTPClient
	baseURL string
	now     func() time.Time
}

// NewGoogleFinanceScraper creates a scraper. An empty baseURL uses the public site.
func NewGoogleFinanceScraper(client *HTTPClient, baseURL string) *GoogleFinanceScraper {
	if baseURL == "" {
		baseURL = googleFinanceBaseURL
	}
	return &GoogleFinanceScraper{http: client, baseURL: baseURL, now: time.Now}
}

func (g *GoogleFinanceScraper) Name() string { return string(types.SourceGoogleScrape) }

// FetchQuote scrapes the quote page for code
func (g *GoogleFinanceScraper) FetchQuote(ctx context.Context, code string) (*Quote, error) {
	header := http.Header{}
	header.Set("Accept", "text/html,application/xhtml+xml")
	header.Set("Accept-Language", "en-US,en;q=0.9")

	body, err := g.http.Get(ctx, g.baseURL+url.PathEscape(code)+"?hl=en", header)
	if err != nil {
		return nil, NewProviderError(g.Name(), "FetchQuote", code, err, nil)
	}

	q, err := parseGoogleQuotePage(body, code)
	if err != nil {
		return nil, NewProviderError(g.Name(), "FetchQuote", code, err, nil)
	}
	q.FetchedAt = g.now()
	return q, nil
}

// parseGoogleQuotePage extracts price, day change, name and currency. A page
// without a positive price is ErrNotFound.
func parseGoogleQuotePage(body []byte, code string) (*Quote, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	priceNode := findDiv(doc, googlePriceClass, googlePriceClass2)
	if priceNode == nil {
		return nil, fmt.Errorf("%w: no price element", ErrNotFound)
	}
	price, ok := parsePriceText(textContent(priceNode))
	if !ok || price <= 0 {
		return nil, fmt.Errorf("%w: no positive price", ErrNotFound)
	}

	q := &Quote{
		Symbol: code,
		Price:  price,
		Source: types.SourceGoogleScrape,
	}
	if i := strings.Index(code, ":"); i >= 0 {
		q.Exchange = code[i+1:]
	}

	raw := string(body)
	if m := changePercentRe.FindStringSubmatch(raw); m != nil {
		pct := strings.ReplaceAll(strings.ReplaceAll(m[1], ",", ""), "−", "-")
		if v, err := strconv.ParseFloat(pct, 64); err == nil {
			q.ChangePercent = &v
		}
	}
	if n := findDiv(doc, googleNameClass); n != nil {
		q.CompanyName = strings.TrimSpace(textContent(n))
	}

	q.Currency = "USD"
	if n := findDiv(doc, googleCurrencyHint); n != nil {
		if m := currencyCodeRe.FindStringSubmatch(textContent(n)); m != nil {
			q.Currency = m[1]
			return q, nil
		}
	}
	if m := currencyInRe.FindStringSubmatch(raw); m != nil {
		q.Currency = m[1]
	} else if cur, ok := exchangeCurrency[q.Exchange]; ok {
		q.Currency = cur
	}
	return q, nil
}

// parsePriceText turns "$1,234.56" or "€98.10" into a number
func parsePriceText(s string) (float64, bool) {
	s = nonNumericRe.ReplaceAllString(s, "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// findDiv returns the first div whose class attribute contains all classes
func findDiv(n *html.Node, classes ...string) *html.Node {
	if n.Type == html.ElementNode && n.Data == "div" && hasClasses(n, classes) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findDiv(c, classes...); found != nil {
			return found
		}
	}
	return nil
}

func hasClasses(n *html.Node, classes []string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		fields := strings.Fields(a.Val)
		for _, want := range classes {
			found := false
			for _, f := range fields {
				if f == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
	return false
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
