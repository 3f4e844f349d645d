// Package generate turns natural-language prompts into KML through the
// Gemini API. The core protocol only ever sees the finished markup string;
// nothing here touches a rig.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/projectdiscovery/gcache"
	"github.com/projectdiscovery/gologger"
	envutil "github.com/projectdiscovery/utils/env"
	errorutil "github.com/projectdiscovery/utils/errors"
	"github.com/tidwall/gjson"

	"github.com/liquidgalaxy/lg-agent/pkg/kml"
)

var (
	DefaultModel   = envutil.GetEnvOrDefault("LG_GEMINI_MODEL", "gemini-2.0-flash")
	DefaultAPIBase = envutil.GetEnvOrDefault("LG_GEMINI_API_BASE", "https://generativelanguage.googleapis.com/v1beta")
	APIKeyEnv      = envutil.GetEnvOrDefault("GOOGLE_API_KEY", "")
)

const (
	defaultTimeout  = 60 * time.Second
	cacheSize       = 256
	cacheExpiration = time.Hour
	temperature     = 0.3
	maxOutputTokens = 4096
)

const systemPrompt = `You are a KML (Keyhole Markup Language) generation expert for Google Earth and Liquid Galaxy.

CRITICAL: Output ONLY the KML XML code. No explanations, no markdown, no code blocks, no additional text whatsoever.

RULES:
1. XML declaration: <?xml version="1.0" encoding="UTF-8"?>
2. Namespaces: xmlns="http://www.opengis.net/kml/2.2" xmlns:gx="http://www.google.com/kml/ext/2.2"
3. For fly-to: use gx:Tour with gx:FlyTo for animations
4. Camera elements must include: longitude, latitude, altitude, heading, tilt, roll, altitudeMode
5. Coordinates: latitude [-90, 90], longitude [-180, 180]
6. Defaults: altitude=1000, heading=0, tilt=45, roll=0
7. Escape XML: &, <, >, ", '
8. Multiple stops: use multiple gx:FlyTo elements in sequence
9. Wrap in KML Document tags
10. Output: ONLY valid KML, nothing else

Generate ONLY KML. No extra text.`

// Client calls the Gemini generateContent endpoint and caches results per
// prompt so repeated requests skip the API.
type Client struct {
	apiKey  string
	model   string
	apiBase string
	httpc   *http.Client
	cache   gcache.Cache[string, string]
}

// Option configures a Client.
type Option func(*Client)

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithAPIBase overrides the API base URL, mainly for tests.
func WithAPIBase(base string) Option {
	return func(c *Client) { c.apiBase = base }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// New creates a generation client. apiKey falls back to GOOGLE_API_KEY.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		apiKey = APIKeyEnv
	}
	if apiKey == "" {
		return nil, errorutil.New("gemini api key required: pass one or set GOOGLE_API_KEY")
	}
	c := &Client{
		apiKey:  apiKey,
		model:   DefaultModel,
		apiBase: DefaultAPIBase,
		httpc:   &http.Client{Timeout: defaultTimeout},
		cache: gcache.New[string, string](cacheSize).
			LRU().
			Expiration(cacheExpiration).
			Build(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type generatePart struct {
	Text string `json:"text"`
}

type generateContent struct {
	Parts []generatePart `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateRequest struct {
	Contents         []generateContent `json:"contents"`
	GenerationConfig generationConfig  `json:"generationConfig"`
}

// GenerateKML converts a natural-language prompt into validated KML.
func (c *Client) GenerateKML(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", errorutil.New("prompt cannot be empty")
	}

	if c.cache.Has(prompt) {
		if cached, err := c.cache.Get(prompt); err == nil {
			gologger.Debug().Msgf("generate: cache hit for %q", prompt)
			return cached, nil
		}
	}

	reqBody := generateRequest{
		Contents: []generateContent{
			{Parts: []generatePart{{Text: systemPrompt + "\n\nUser request: " + prompt}}},
		},
		GenerationConfig: generationConfig{
			Temperature:     temperature,
			MaxOutputTokens: maxOutputTokens,
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.apiBase, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", errorutil.NewWithErr(err).Msgf("gemini request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", errorutil.New("gemini returned status %d: %s", resp.StatusCode, gjson.GetBytes(body, "error.message").String())
	}

	text := gjson.GetBytes(body, "candidates.0.content.parts.0.text").String()
	if text == "" {
		return "", errorutil.New("no response from gemini")
	}

	doc := kml.StripCodeFences(text)
	if err := kml.Validate(doc); err != nil {
		return "", errorutil.NewWithErr(err).Msgf("generated kml failed validation")
	}

	if err := c.cache.Set(prompt, doc); err != nil {
		gologger.Debug().Msgf("generate: cache set failed: %v", err)
	}
	return doc, nil
}
