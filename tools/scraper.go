package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/petasbytes/market-agent/internal/fetch"
	"github.com/petasbytes/market-agent/internal/safety"
)

type ScraperInput struct {
	URL string `json:"url" jsonschema_description:"Absolute http(s) URL of the page to read."`
}

var ScraperInputSchema = GenerateSchema[ScraperInput]()

// Scraper fetches a page and returns its title and readable text.
type Scraper struct {
	Fetcher *fetch.Fetcher
}

func NewScraper(f *fetch.Fetcher) *Scraper {
	return &Scraper{Fetcher: f}
}

func (s *Scraper) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "web_scraper",
		Description: "Scrape the readable text content of a web page. Input is an http or https URL.",
		InputSchema: ScraperInputSchema,
		PrimaryArg:  "url",
	}
}

func (s *Scraper) Run(ctx context.Context, input json.RawMessage) (string, error) {
	var in ScraperInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", err
	}
	page, err := s.Fetcher.Fetch(ctx, in.URL)
	if err != nil {
		var te safety.ToolError
		if errors.As(err, &te) {
			return "", &Error{Code: te.Code, Message: te.Message, Err: err}
		}
		return "", &Error{Code: CodeFetch, Message: err.Error(), Err: err}
	}
	return page.String(), nil
}
