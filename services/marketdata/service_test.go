package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockdash/services"
	"stockdash/testutil"
)

type fakeArchive struct {
	mu       sync.Mutex
	saved    []Article
	stored   map[string][]Article
	readErr  error
	purgedAt time.Time
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{stored: make(map[string][]Article)}
}

func (a *fakeArchive) Save(_ context.Context, articles []Article) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, articles...)
	return nil
}

func (a *fakeArchive) Latest(_ context.Context, topic string, limit int) ([]Article, error) {
	if a.readErr != nil {
		return nil, a.readErr
	}
	articles := a.stored[topic]
	if len(articles) > limit {
		articles = articles[:limit]
	}
	return articles, nil
}

func (a *fakeArchive) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	a.purgedAt = cutoff
	return 3, nil
}

func fixedNow() time.Time {
	return time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC)
}

func TestQuoteFallsBackAcrossProviders(t *testing.T) {
	var finnhubCalls, avCalls int32
	finnhub := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&finnhubCalls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	av := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&avCalls, 1)
		w.Write([]byte(`{"Global Quote": {"01. symbol": "AAPL", "05. price": "200.00", "07. latest trading day": "2026-10-17"}}`))
	})

	svc := NewService(Options{
		Finnhub:      NewFinnhubClient(finnhub.URL, "k", 100),
		AlphaVantage: NewAlphaVantageClient(av.URL, "k", 100),
		Now:          fixedNow,
	})

	q, err := svc.Quote(context.Background(), "aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, SourceAlphaVantage, q.Source)

	q, err = svc.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, q.Source)
	assert.Equal(t, "200", q.Price.String())

	assert.Equal(t, int32(1), atomic.LoadInt32(&finnhubCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&avCalls))
}

func TestQuoteWithoutProvidersIsDeterministicMock(t *testing.T) {
	svc := NewService(Options{Now: fixedNow})

	first, err := svc.Quote(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.Equal(t, SourceMock, first.Source)
	assert.True(t, first.Price.IsPositive())

	other := NewService(Options{Now: fixedNow})
	second, err := other.Quote(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.True(t, first.Price.Equal(second.Price))
}

func TestQuoteRejectsBadSymbol(t *testing.T) {
	svc := NewService(Options{})
	_, err := svc.Quote(context.Background(), "")
	assert.ErrorIs(t, err, services.ErrInvalidInput)
}

func TestHistoryTrimsAndOrders(t *testing.T) {
	polygon := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		body := `{"status":"OK","results":[`
		for i := 0; i < 10; i++ {
			if i > 0 {
				body += ","
			}
			ts := time.Date(2026, 10, 1+i, 0, 0, 0, 0, time.UTC).UnixMilli()
			body += fmt.Sprintf(`{"o":1,"h":1,"l":1,"c":%d,"v":1,"t":%d}`, i+1, ts)
		}
		w.Write([]byte(body + "]}"))
	})

	svc := NewService(Options{Polygon: NewPolygonClient(polygon.URL, "k", 100), Now: fixedNow})
	h, err := svc.History(context.Background(), "SPY", 5)
	require.NoError(t, err)
	require.Len(t, h.Bars, 5)
	assert.Equal(t, SourcePolygon, h.Source)
	assert.Equal(t, "6", h.Bars[0].Close.String())
	assert.Equal(t, "10", h.Bars[4].Close.String())
	for i := 1; i < len(h.Bars); i++ {
		assert.True(t, h.Bars[i-1].Date.Before(h.Bars[i].Date))
	}
}

func TestHistoryMockAndValidation(t *testing.T) {
	svc := NewService(Options{Now: fixedNow})

	h, err := svc.History(context.Background(), "AAPL", 30)
	require.NoError(t, err)
	assert.Equal(t, SourceMock, h.Source)
	require.Len(t, h.Bars, 30)
	for i := 1; i < len(h.Bars); i++ {
		assert.True(t, h.Bars[i-1].Date.Before(h.Bars[i].Date))
		assert.NotEqual(t, time.Saturday, h.Bars[i].Date.Weekday())
		assert.NotEqual(t, time.Sunday, h.Bars[i].Date.Weekday())
	}

	_, err = svc.History(context.Background(), "AAPL", 0)
	assert.ErrorIs(t, err, services.ErrInvalidInput)
	_, err = svc.History(context.Background(), "AAPL", MaxHistoryDays+1)
	assert.ErrorIs(t, err, services.ErrInvalidInput)
}

func TestSearchFallsBackToUniverse(t *testing.T) {
	svc := NewService(Options{})

	results, err := svc.Search(context.Background(), "micro")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "MSFT", results[0].Symbol)

	results, err = svc.Search(context.Background(), "zzzz")
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = svc.Search(context.Background(), "  ")
	assert.ErrorIs(t, err, services.ErrInvalidInput)
}

func TestNewsArchivesProviderResults(t *testing.T) {
	finnhub := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"datetime":1760600000,"headline":"older","url":"https://n/1"},
			{"datetime":1760700000,"headline":"newer","url":"https://n/2"}]`))
	})
	archive := newFakeArchive()
	svc := NewService(Options{Finnhub: NewFinnhubClient(finnhub.URL, "k", 100), Archive: archive, Now: fixedNow})

	feed, err := svc.News(context.Background(), "tsla", 10)
	require.NoError(t, err)
	assert.Equal(t, SourceFinnhub, feed.Source)
	assert.Equal(t, "TSLA", feed.Topic)
	require.Len(t, feed.Articles, 2)
	assert.Equal(t, "newer", feed.Articles[0].Headline)
	assert.Len(t, archive.saved, 2)
}

func TestNewsFallsBackToArchiveThenMock(t *testing.T) {
	newsAPI := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	archive := newFakeArchive()
	archive.stored["business"] = []Article{{URL: "https://n/a", Topic: "business", Headline: "archived"}}

	svc := NewService(Options{NewsAPI: NewNewsAPIClient(newsAPI.URL, "k", 100), Archive: archive, Now: fixedNow})
	feed, err := svc.News(context.Background(), "", 5)
	require.NoError(t, err)
	assert.Equal(t, SourceArchive, feed.Source)
	assert.Equal(t, "archived", feed.Articles[0].Headline)

	archive.readErr = errors.New("mongo down")
	feed, err = svc.News(context.Background(), "", 3)
	require.NoError(t, err)
	assert.Equal(t, SourceMock, feed.Source)
	assert.Len(t, feed.Articles, 3)
}

func TestPurgeNewsUsesMaxAge(t *testing.T) {
	archive := newFakeArchive()
	svc := NewService(Options{Archive: archive, Now: fixedNow})

	n, err := svc.PurgeNews(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, fixedNow().Add(-30*24*time.Hour), archive.purgedAt)

	n, err = NewService(Options{}).PurgeNews(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRefreshIndicesUpserts(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewService(Options{Now: fixedNow})
	ctx := context.Background()

	rows, err := svc.RefreshIndices(ctx, db)
	require.NoError(t, err)
	assert.Len(t, rows, len(IndexProxies))

	_, err = svc.RefreshIndices(ctx, db)
	require.NoError(t, err)

	stored, err := StoredIndices(ctx, db)
	require.NoError(t, err)
	require.Len(t, stored, len(IndexProxies))
	assert.Equal(t, "DIA", stored[0].Symbol)
	assert.Equal(t, SourceMock, stored[0].Source)
}
