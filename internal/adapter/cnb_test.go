package adapter

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-tracker/internal/types"
)

const cnbFixing = `<?xml version="1.0" encoding="UTF-8"?>
<kurzy banka="CNB" datum="03.01.2025" poradi="2">
  <tabulka typ="XML_TYP_CNB_KURZY_DEVIZOVEHO_TRHU">
    <radek kod="EUR" mena="euro" mnozstvi="1" kurz="25,170" zeme="EMU"/>
    <radek kod="JPY" mena="jen" mnozstvi="100" kurz="15,432" zeme="Japonsko"/>
    <radek kod="USD" mena="dolar" mnozstvi="1" kurz="24,417" zeme="USA"/>
    <radek kod="XXX" mena="bad" mnozstvi="1" kurz="n/a" zeme="-"/>
  </tabulka>
</kurzy>`

func TestCNBClient_FetchDaily(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "04.01.2025", r.URL.Query().Get("date"))
		_, _ = w.Write([]byte(cnbFixing))
	})

	day := time.Date(2025, 1, 4, 15, 0, 0, 0, time.UTC)
	rates, err := NewCNBClient(newTestClient(t), srv.URL).FetchDaily(context.Background(), day)
	require.NoError(t, err)
	require.Len(t, rates, 3)

	byCode := map[string]int{}
	for i, r := range rates {
		byCode[r.Currency] = i
		assert.Equal(t, time.Date(2025, 1, 4, 0, 0, 0, 0, time.UTC), r.Date)
		assert.Equal(t, types.SourceCNB, r.Source)
	}
	eur := rates[byCode["EUR"]]
	assert.InDelta(t, 25.17, eur.PerUnit(), 1e-9)
	jpy := rates[byCode["JPY"]]
	assert.Equal(t, 100, jpy.Amount)
	assert.InDelta(t, 0.15432, jpy.PerUnit(), 1e-9)
}

func TestParseCNBRates_Invalid(t *testing.T) {
	_, err := parseCNBRates([]byte("not xml"), time.Now())
	assert.True(t, errors.Is(err, ErrMalformedResponse))

	_, err = parseCNBRates([]byte(`<kurzy><tabulka></tabulka></kurzy>`), time.Now())
	assert.True(t, IsNotFound(err))
}
