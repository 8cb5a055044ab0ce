package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"stockdash/services"
)

// NewsAPIClient reads headlines from newsapi.org
type NewsAPIClient struct {
	restClient
	apiKey string
}

// NewNewsAPIClient creates a client limited to ratePerSecond requests
func NewNewsAPIClient(baseURL, apiKey string, ratePerSecond float64) *NewsAPIClient {
	return &NewsAPIClient{
		restClient: newRESTClient(SourceNewsAPI, baseURL, ratePerSecond),
		apiKey:     apiKey,
	}
}

type newsAPIResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string    `json:"title"`
		Description string    `json:"description"`
		URL         string    `json:"url"`
		URLToImage  string    `json:"urlToImage"`
		PublishedAt time.Time `json:"publishedAt"`
	} `json:"articles"`
}

func (c *NewsAPIClient) fetch(ctx context.Context, path, topic string, q url.Values) ([]Article, error) {
	h := http.Header{}
	h.Set("X-Api-Key", c.apiKey)

	var result newsAPIResponse
	if err := c.getJSON(ctx, path, q, h, &result); err != nil {
		return nil, err
	}
	if result.Status != "ok" {
		return nil, fmt.Errorf("newsapi: %s %s: %w", result.Code, result.Message, services.ErrProviderUnavailable)
	}

	articles := make([]Article, 0, len(result.Articles))
	for _, a := range result.Articles {
		if a.URL == "" {
			continue
		}
		articles = append(articles, Article{
			URL:         a.URL,
			Topic:       topic,
			Headline:    a.Title,
			Summary:     a.Description,
			Publisher:   a.Source.Name,
			ImageURL:    a.URLToImage,
			PublishedAt: a.PublishedAt.UTC(),
		})
	}
	return articles, nil
}

// TopHeadlines returns US top headlines for a category such as "business"
func (c *NewsAPIClient) TopHeadlines(ctx context.Context, category string, pageSize int) ([]Article, error) {
	q := url.Values{
		"category": {category},
		"country":  {"us"},
		"pageSize": {strconv.Itoa(pageSize)},
	}
	return c.fetch(ctx, "/top-headlines", category, q)
}

// Everything searches all articles matching query, newest first
func (c *NewsAPIClient) Everything(ctx context.Context, query string, pageSize int) ([]Article, error) {
	q := url.Values{
		"q":        {query},
		"language": {"en"},
		"sortBy":   {"publishedAt"},
		"pageSize": {strconv.Itoa(pageSize)},
	}
	return c.fetch(ctx, "/everything", query, q)
}
