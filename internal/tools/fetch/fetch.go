package fetch

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/mozhuanzuojing/CountBot/internal/logger"
)

// Config controls the behavior of the web_fetch tool.
type Config struct {
	Enabled         bool
	TimeoutSeconds  int
	MaxResponseSize int64
	UserAgent       string
}

// DefaultConfig returns the default fetch configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		TimeoutSeconds:  30,
		MaxResponseSize: 2 * 1024 * 1024,
		UserAgent:       "countbot/1.0",
	}
}

// FetchTool retrieves web content and renders it as text, markdown, or
// raw HTML for the agent.
type FetchTool struct {
	cfg    Config
	logger *logger.Logger
	client *http.Client
}

// FetchArgs represents the arguments for the fetch tool.
type FetchArgs struct {
	URL     string            `json:"url"`
	Format  string            `json:"format,omitempty"`
	Method  string            `json:"method,omitempty"`
	Body    string            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Timeout *int              `json:"timeout,omitempty"`
}

// NewFetchTool creates a new FetchTool instance.
func NewFetchTool(cfg Config, log *logger.Logger) *FetchTool {
	return &FetchTool{
		cfg:    cfg,
		logger: log,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// Name returns the tool name.
func (t *FetchTool) Name() string {
	return "web_fetch"
}

// Description returns a description of what the tool does.
func (t *FetchTool) Description() string {
	return "Fetch content from a URL. Returns formatted text with metadata."
}

// Parameters returns the JSON Schema for the tool's parameters.
func (t *FetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "The URL to fetch. Must start with http:// or https://",
			},
			"format": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"text", "html", "markdown", "json"},
				"default":     "text",
				"description": "Output format: 'text' (extracts visible text), 'html' (raw HTML), 'markdown' (converts HTML to Markdown), or 'json' (parse JSON response)",
			},
			"method": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
				"default":     "GET",
				"description": "HTTP method to use",
			},
			"body": map[string]interface{}{
				"type":        "string",
				"description": "Request body (for POST, PUT, PATCH methods)",
			},
			"headers": map[string]interface{}{
				"type":        "object",
				"description": "Optional HTTP headers",
				"additionalProperties": map[string]interface{}{
					"type": "string",
				},
			},
			"timeout": map[string]interface{}{
				"type":        "integer",
				"description": "Timeout in seconds (1-120). Omit to use the default timeout",
				"minimum":     1,
				"maximum":     120,
			},
		},
		"required": []string{"url"},
	}
}

// Execute executes the fetch tool.
func (t *FetchTool) Execute(args string) (string, error) {
	var fetchArgs FetchArgs
	if err := json.Unmarshal([]byte(args), &fetchArgs); err != nil {
		return "", fmt.Errorf("failed to parse arguments: %w", err)
	}

	if !t.cfg.Enabled {
		return "", fmt.Errorf("web_fetch tool is disabled in configuration")
	}
	if fetchArgs.URL == "" {
		return "", fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(fetchArgs.URL, "http://") && !strings.HasPrefix(fetchArgs.URL, "https://") {
		return "", fmt.Errorf("url must start with http:// or https://")
	}
	if fetchArgs.Format == "" {
		fetchArgs.Format = "text"
	}
	if fetchArgs.Method == "" {
		fetchArgs.Method = "GET"
	}

	client := t.client
	if fetchArgs.Timeout != nil {
		if *fetchArgs.Timeout < 1 || *fetchArgs.Timeout > 120 {
			return "", fmt.Errorf("timeout must be between 1 and 120 seconds")
		}
		client = &http.Client{Timeout: time.Duration(*fetchArgs.Timeout) * time.Second}
	}

	var bodyReader io.Reader
	if fetchArgs.Body != "" && fetchArgs.Method != "GET" && fetchArgs.Method != "DELETE" {
		bodyReader = strings.NewReader(fetchArgs.Body)
	}

	req, err := http.NewRequest(fetchArgs.Method, fetchArgs.URL, bodyReader)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", t.cfg.UserAgent)
	req.Header.Set("Accept", "*/*")
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range fetchArgs.Headers {
		req.Header.Set(name, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	limitReader := io.LimitReader(resp.Body, t.cfg.MaxResponseSize+1)
	body, err := io.ReadAll(limitReader)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > t.cfg.MaxResponseSize {
		return "", fmt.Errorf("response too large: exceeds %d bytes limit", t.cfg.MaxResponseSize)
	}

	contentType := resp.Header.Get("Content-Type")
	content := string(body)
	isHTML := strings.Contains(contentType, "text/html")

	switch {
	case fetchArgs.Format == "text" && isHTML:
		content, err = t.extractText(content)
		if err != nil {
			return "", fmt.Errorf("failed to extract text: %w", err)
		}
	case fetchArgs.Format == "markdown" && isHTML:
		content = t.htmlToMarkdown(content)
	}

	result := map[string]interface{}{
		"url":         fetchArgs.URL,
		"status":      resp.StatusCode,
		"statusText":  resp.Status,
		"contentType": contentType,
		"length":      len(content),
		"content":     content,
	}

	if fetchArgs.Format == "json" {
		var jsonData interface{}
		if err := json.Unmarshal(body, &jsonData); err != nil {
			return "", fmt.Errorf("failed to parse JSON response: %w", err)
		}
		result["json"] = jsonData
	}

	resultJSON, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(resultJSON), nil
}

var collapseSpace = regexp.MustCompile(`[ \t]+`)

func (t *FetchTool) extractText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, nav, footer, aside").Remove()

	var lines []string
	for _, line := range strings.Split(doc.Find("body").Text(), "\n") {
		line = strings.TrimSpace(collapseSpace.ReplaceAllString(line, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (t *FetchTool) htmlToMarkdown(html string) string {
	opts := &md.Options{
		HeadingStyle:    "atx",
		CodeBlockStyle:  "fenced",
		EmDelimiter:     "*",
		StrongDelimiter: "**",
	}
	converter := md.NewConverter("", true, opts)
	converter.Keep("a", "img")
	converter.AddRules(md.Rule{
		Filter: []string{"nav", "footer", "aside", "script", "style"},
		Replacement: func(content string, selec *goquery.Selection, opt *md.Options) *string {
			empty := ""
			return &empty
		},
	})

	markdown, err := converter.ConvertString(html)
	if err != nil {
		t.logger.Error("failed to convert HTML to Markdown", err)
		return ""
	}

	reCleanNewlines := regexp.MustCompile(`\n{3,}`)
	markdown = reCleanNewlines.ReplaceAllString(markdown, "\n\n")
	return strings.TrimSpace(markdown)
}
