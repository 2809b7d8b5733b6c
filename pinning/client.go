package pinning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
)

const (
	DefaultAPIBase     = "https://api.pinata.cloud"
	DefaultGatewayBase = "https://gateway.pinata.cloud/ipfs/"
)

// ErrUploadFailed is returned when the pinning service did not accept a file.
var ErrUploadFailed = errors.New("failed to upload file to IPFS")

type Config struct {
	APIBase     string
	GatewayBase string
	APIKey      string
	SecretKey   string
}

// Client uploads files to a Pinata-compatible pinning service and fetches
// them back through an IPFS gateway.
type Client struct {
	cfg  Config
	http *http.Client
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.GatewayBase == "" {
		cfg.GatewayBase = DefaultGatewayBase
	}
	if !strings.HasSuffix(cfg.GatewayBase, "/") {
		cfg.GatewayBase += "/"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{cfg: cfg, http: httpClient}
}

// Upload pins content and returns its content id.
func (c *Client) Upload(ctx context.Context, filename string, content io.Reader) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %v", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("failed to read upload: %v", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("failed to finish form: %v", err)
	}

	url := strings.TrimSuffix(c.cfg.APIBase, "/") + "/pinning/pinFileToIPFS"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("pinata_api_key", c.cfg.APIKey)
	req.Header.Set("pinata_secret_api_key", c.cfg.SecretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrUploadFailed, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var pinned pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&pinned); err != nil {
		return "", fmt.Errorf("%w: invalid response: %v", ErrUploadFailed, err)
	}
	if pinned.IpfsHash == "" {
		return "", fmt.Errorf("%w: response carried no content id", ErrUploadFailed)
	}

	log.Printf("Pinned %s as %s (%d bytes)", filename, pinned.IpfsHash, pinned.PinSize)
	return pinned.IpfsHash, nil
}

// URL is the gateway address for a content id.
func (c *Client) URL(cid string) string {
	return c.cfg.GatewayBase + cid
}

// Fetch opens the content behind cid. The caller closes the reader.
func (c *Client) Fetch(ctx context.Context, cid string) (io.ReadCloser, string, error) {
	if strings.TrimSpace(cid) == "" || strings.ContainsAny(cid, "/?#") {
		return nil, "", fmt.Errorf("invalid content id %q", cid)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(cid), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build request: %v", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch %s: %v", cid, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("failed to fetch %s: status %d", cid, resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}
