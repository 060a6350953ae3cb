package media

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const defaultCloudinaryBaseURL = "https://api.cloudinary.com/v1_1"

// Cloudinary talks to the Cloudinary upload API using signed requests.
type Cloudinary struct {
	cloudName  string
	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

func NewCloudinary(cloudName, apiKey, apiSecret string) *Cloudinary {
	return &Cloudinary{
		cloudName:  cloudName,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    defaultCloudinaryBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		now:        time.Now,
	}
}

// NewCloudinaryWithBaseURL points the client at a different API host.
// Used by tests to stand in a local server.
func NewCloudinaryWithBaseURL(cloudName, apiKey, apiSecret, baseURL string) *Cloudinary {
	c := NewCloudinary(cloudName, apiKey, apiSecret)
	c.baseURL = strings.TrimSuffix(baseURL, "/")
	return c
}

// Enabled reports whether credentials are configured.
func (c *Cloudinary) Enabled() bool {
	return c.cloudName != "" && c.apiKey != "" && c.apiSecret != ""
}

// sign builds the Cloudinary request signature: the sorted parameters joined
// as a query string, with the API secret appended, hashed with SHA1.
func (c *Cloudinary) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	// Lexicographic order is required by the API.
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	payload := strings.Join(parts, "&") + c.apiSecret
	return fmt.Sprintf("%x", sha1.Sum([]byte(payload)))
}

type cloudinaryResponse struct {
	SecureURL    string `json:"secure_url"`
	URL          string `json:"url"`
	PublicID     string `json:"public_id"`
	ResourceType string `json:"resource_type"`
	Result       string `json:"result"`
	Error        struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Cloudinary) Upload(ctx context.Context, file io.Reader, filename, folder string) (*Upload, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("media storage is not configured")
	}

	resourceType := ResourceTypeFor(filename)
	timestamp := fmt.Sprintf("%d", c.now().Unix())

	signed := map[string]string{"timestamp": timestamp}
	if folder != "" {
		signed["folder"] = folder
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range signed {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("failed to build upload form: %w", err)
		}
	}
	if err := writer.WriteField("api_key", c.apiKey); err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := writer.WriteField("signature", c.sign(signed)); err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to read upload body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish upload form: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s/upload", c.baseURL, c.cloudName, resourceType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer res.Body.Close()

	parsed, err := parseCloudinaryResponse(res)
	if err != nil {
		return nil, err
	}

	uploadURL := parsed.SecureURL
	if uploadURL == "" {
		uploadURL = parsed.URL
	}
	if uploadURL == "" {
		return nil, fmt.Errorf("upload response carried no url")
	}

	result := &Upload{
		URL:          uploadURL,
		PublicID:     parsed.PublicID,
		ResourceType: resourceType,
	}
	if parsed.ResourceType != "" {
		result.ResourceType = parsed.ResourceType
	}
	return result, nil
}

func (c *Cloudinary) Destroy(ctx context.Context, publicID, resourceType string) error {
	if !c.Enabled() {
		return fmt.Errorf("media storage is not configured")
	}
	if resourceType == "" || resourceType == "auto" {
		resourceType = "image"
	}

	timestamp := fmt.Sprintf("%d", c.now().Unix())
	signed := map[string]string{"public_id": publicID, "timestamp": timestamp}

	form := url.Values{}
	form.Add("public_id", publicID)
	form.Add("timestamp", timestamp)
	form.Add("api_key", c.apiKey)
	form.Add("signature", c.sign(signed))

	endpoint := fmt.Sprintf("%s/%s/%s/destroy", c.baseURL, c.cloudName, resourceType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create destroy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("destroy request failed: %w", err)
	}
	defer res.Body.Close()

	parsed, err := parseCloudinaryResponse(res)
	if err != nil {
		return err
	}
	if parsed.Result != "ok" {
		return fmt.Errorf("destroy result not ok: %s", parsed.Result)
	}
	return nil
}

func parseCloudinaryResponse(res *http.Response) (*cloudinaryResponse, error) {
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed cloudinaryResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error.Message != "" {
		return nil, fmt.Errorf("media store error: %s", parsed.Error.Message)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media store returned status %d", res.StatusCode)
	}
	return &parsed, nil
}
