package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"

	"github.com/xonecas/symb/internal/store"
)

const noSearchResults = "No results found."

// WebFetchArgs are the arguments to the WebFetch tool.
type WebFetchArgs struct {
	URL      string `json:"url"`
	MaxChars int    `json:"max_chars,omitempty"`
}

// WebFetchTool fetches a URL and returns its content as cleaned text,
// caching results in Cache (may be nil, in which case every call hits
// the network).
type WebFetchTool struct {
	Cache  *store.Cache
	client *http.Client
}

func (WebFetchTool) Schema() Schema {
	return Schema{
		Name:        "WebFetch",
		Description: "Fetch a URL and return its content as cleaned text (HTML tags, scripts, and styles stripped). Results are cached.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url":       {"type": "string", "description": "The URL to fetch."},
				"max_chars": {"type": "integer", "description": "Maximum characters to return. Default: 10000"}
			},
			"required": ["url"]
		}`),
	}
}

func (t WebFetchTool) Call(ctx *Context, argsJSON json.RawMessage) (Result, error) {
	var args WebFetchArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return Err(fmt.Sprintf("Invalid arguments: %v", err)), nil
	}
	if args.URL == "" {
		return Err("url is required"), nil
	}
	if args.MaxChars <= 0 {
		args.MaxChars = 10000
	}

	if t.Cache != nil {
		if cached, ok := t.Cache.GetFetch(args.URL); ok {
			log.Debug().Str("url", args.URL).Msg("WebFetch cache hit")
			return Ok(truncateChars(cached, args.MaxChars)), nil
		}
	}

	client := t.client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx.Context, http.MethodGet, args.URL, nil)
	if err != nil {
		return Err(fmt.Sprintf("Bad URL: %v", err)), nil
	}
	req.Header.Set("User-Agent", "Symb/0.1")
	req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		return Err(fmt.Sprintf("Fetch failed: %v", err)), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Err(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, resp.Status)), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Err(fmt.Sprintf("Read failed: %v", err)), nil
	}

	var text string
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		text = extractText(body)
	} else {
		text = string(body)
	}

	if t.Cache != nil {
		t.Cache.SetFetch(args.URL, text)
	}
	return Ok(truncateChars(text, args.MaxChars)), nil
}

// WebSearchArgs are the arguments to the WebSearch tool.
type WebSearchArgs struct {
	Query          string   `json:"query"`
	NumResults     int      `json:"num_results,omitempty"`
	Type           string   `json:"type,omitempty"`
	IncludeDomains []string `json:"include_domains,omitempty"`
}

type exaSearchRequest struct {
	Query          string            `json:"query"`
	Type           string            `json:"type"`
	NumResults     int               `json:"numResults"`
	Contents       exaSearchContents `json:"contents"`
	IncludeDomains []string          `json:"includeDomains,omitempty"`
}

type exaSearchContents struct {
	Text exaTextOptions `json:"text"`
}

type exaTextOptions struct {
	MaxCharacters int `json:"maxCharacters"`
}

type exaSearchResponse struct {
	Results []exaResult `json:"results"`
}

type exaResult struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Text          string `json:"text"`
	PublishedDate string `json:"publishedDate,omitempty"`
}

const exaDefaultEndpoint = "https://api.exa.ai/search"

// WebSearchTool searches the web via Exa AI, caching results in Cache.
// Endpoint defaults to the production Exa endpoint when empty.
type WebSearchTool struct {
	Cache    *store.Cache
	APIKey   string
	Endpoint string
	client   *http.Client
}

func (WebSearchTool) Schema() Schema {
	return Schema{
		Name:        "WebSearch",
		Description: "Search the web using Exa AI. Use this to look up documentation, APIs, libraries, or current information. Results are cached.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query":           {"type": "string", "description": "Search query."},
				"num_results":     {"type": "integer", "description": "Number of results to return. Default: 5"},
				"type":            {"type": "string", "description": "Search type: \"auto\" (default), \"fast\", or \"deep\".", "enum": ["auto", "fast", "deep"]},
				"include_domains": {"type": "array", "items": {"type": "string"}, "description": "Only include results from these domains."}
			},
			"required": ["query"]
		}`),
	}
}

func (t WebSearchTool) Call(ctx *Context, argsJSON json.RawMessage) (Result, error) {
	var args WebSearchArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return Err(fmt.Sprintf("Invalid arguments: %v", err)), nil
	}
	if args.Query == "" {
		return Err("query is required"), nil
	}
	if t.APIKey == "" {
		return Err("Exa AI API key not configured in credentials.json (providers.exa_ai.api_key)"), nil
	}
	if args.NumResults <= 0 {
		args.NumResults = 5
	}
	if args.Type == "" {
		args.Type = "auto"
	}

	exactKey := fmt.Sprintf("%s|n=%d|t=%s|d=%s",
		args.Query, args.NumResults, args.Type, strings.Join(args.IncludeDomains, ","))

	if t.Cache != nil {
		if cached, ok := t.Cache.GetSearch(exactKey); ok {
			log.Debug().Str("query", args.Query).Msg("WebSearch exact cache hit")
			return Ok(cached), nil
		}
		if cached, ok := t.Cache.SearchCachedContent(args.Query); ok {
			log.Debug().Str("query", args.Query).Msg("WebSearch content cache hit")
			return Ok(cached), nil
		}
	}

	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = exaDefaultEndpoint
	}
	client := t.client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	reqBody := exaSearchRequest{
		Query:          args.Query,
		Type:           args.Type,
		NumResults:     args.NumResults,
		Contents:       exaSearchContents{Text: exaTextOptions{MaxCharacters: 2000}},
		IncludeDomains: args.IncludeDomains,
	}
	bodyJSON, err := json.Marshal(reqBody)
	if err != nil {
		return Err(fmt.Sprintf("Marshal failed: %v", err)), nil
	}

	req, err := http.NewRequestWithContext(ctx.Context, http.MethodPost, endpoint, bytes.NewReader(bodyJSON))
	if err != nil {
		return Err(fmt.Sprintf("Request failed: %v", err)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", t.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		return Err(fmt.Sprintf("Search failed: %v", err)), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Err(fmt.Sprintf("Read response failed: %v", err)), nil
	}
	if resp.StatusCode >= 400 {
		return Err(fmt.Sprintf("Exa API error %d: %s", resp.StatusCode, string(respBody))), nil
	}

	var exaResp exaSearchResponse
	if err := json.Unmarshal(respBody, &exaResp); err != nil {
		return Err(fmt.Sprintf("Parse response failed: %v", err)), nil
	}

	result := formatSearchResults(exaResp.Results)
	if t.Cache != nil {
		t.Cache.SetSearch(exactKey, result)
	}
	return Ok(result), nil
}

func formatSearchResults(results []exaResult) string {
	if len(results) == 0 {
		return noSearchResults
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d result(s):\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "\n--- %d. %s ---\n", i+1, r.Title)
		fmt.Fprintf(&b, "URL: %s\n", r.URL)
		if r.PublishedDate != "" {
			fmt.Fprintf(&b, "Published: %s\n", r.PublishedDate)
		}
		if r.Text != "" {
			b.WriteString(r.Text)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func isSkipTag(tag string) bool {
	return tag == "script" || tag == "style" || tag == "noscript"
}

// extractText parses HTML and returns visible text content, dropping
// script/style/noscript elements and inserting newlines at block boundaries.
func extractText(data []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(data))
	var b strings.Builder
	skip := 0

	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			return collapseWhitespace(b.String())
		}
		tn, _ := tokenizer.TagName()
		tag := string(tn)

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			if isSkipTag(tag) {
				skip++
			}
			if isBlockElement(tag) && b.Len() > 0 {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			if isSkipTag(tag) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}

func isBlockElement(tag string) bool {
	switch tag {
	case "p", "div", "br", "h1", "h2", "h3", "h4", "h5", "h6",
		"li", "tr", "td", "th", "blockquote", "pre", "hr",
		"header", "footer", "section", "article", "nav", "main":
		return true
	}
	return false
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blanks := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			blanks++
			if blanks <= 1 {
				out = append(out, "")
			}
			continue
		}
		blanks = 0
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func truncateChars(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "\n\n[Truncated]"
}
