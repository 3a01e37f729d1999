package photos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"
)

const (
	DefaultBaseURL = "https://photoslibrary.googleapis.com/v1"

	albumsPageSize = 50
	itemsPageSize  = 100

	// MaxDownloadBytes bounds how much of one item is held in memory
	MaxDownloadBytes = 1 << 30
)

var (
	ErrEmptyDownload = errors.New("downloaded item is empty")
	ErrEmptyUpload   = errors.New("nothing to upload")
	ErrTooLarge      = errors.New("item exceeds maximum download size")
)

// Client talks to the Google Photos Library API on behalf of any account;
// every call takes the access token to use.
type Client struct {
	oauth       *oauth2.Config
	baseURL     string
	userinfoURL string
	httpClient  *http.Client
	limiter     *rate.Limiter
}

type Option func(*Client)

// WithBaseURL points the client at another Photos Library endpoint
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the client used for downloads and OAuth token calls
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit throttles outbound calls to rps requests per second
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRedirectURL sets the OAuth redirect used by AuthCodeURL and Exchange
func WithRedirectURL(u string) Option {
	return func(c *Client) { c.oauth.RedirectURL = u }
}

// WithOAuthEndpoint replaces the Google OAuth endpoint
func WithOAuthEndpoint(e oauth2.Endpoint) Option {
	return func(c *Client) { c.oauth.Endpoint = e }
}

// WithUserinfoURL replaces the base URL of the userinfo API
func WithUserinfoURL(u string) Option {
	return func(c *Client) { c.userinfoURL = u }
}

func NewClient(clientID, clientSecret string, opts ...Option) *Client {
	c := &Client{
		oauth:      newOAuthConfig(clientID, clientSecret),
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListAlbums returns every album of the account, following pagination
func (c *Client) ListAlbums(ctx context.Context, accessToken string) ([]Album, error) {
	albums := []Album{}
	pageToken := ""
	for {
		q := url.Values{"pageSize": {fmt.Sprint(albumsPageSize)}}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var resp listAlbumsResponse
		if err := c.doJSON(ctx, accessToken, http.MethodGet, c.baseURL+"/albums?"+q.Encode(), nil, &resp); err != nil {
			return nil, fmt.Errorf("failed to list albums: %w", err)
		}
		albums = append(albums, resp.Albums...)

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	log.Debugf("Photos API returned %d albums", len(albums))
	return albums, nil
}

// GetAlbum returns one album's details
func (c *Client) GetAlbum(ctx context.Context, accessToken, albumID string) (*Album, error) {
	var album Album
	if err := c.doJSON(ctx, accessToken, http.MethodGet, c.baseURL+"/albums/"+url.PathEscape(albumID), nil, &album); err != nil {
		return nil, fmt.Errorf("failed to get album %s: %w", albumID, err)
	}
	return &album, nil
}

// ListItems returns every media item of an album via mediaItems:search
func (c *Client) ListItems(ctx context.Context, accessToken, albumID string) ([]MediaItem, error) {
	items := []MediaItem{}
	req := searchMediaItemsRequest{AlbumID: albumID, PageSize: itemsPageSize}
	for {
		var resp searchMediaItemsResponse
		if err := c.doJSON(ctx, accessToken, http.MethodPost, c.baseURL+"/mediaItems:search", req, &resp); err != nil {
			return nil, fmt.Errorf("failed to search items in album %s: %w", albumID, err)
		}
		items = append(items, resp.MediaItems...)

		if resp.NextPageToken == "" {
			break
		}
		req.PageToken = resp.NextPageToken
	}

	log.Debugf("Photos API returned %d items for album %s", len(items), albumID)
	return items, nil
}

// GetItem resolves one media item, including its short-lived base URL
func (c *Client) GetItem(ctx context.Context, accessToken, itemID string) (*MediaItem, error) {
	var item MediaItem
	if err := c.doJSON(ctx, accessToken, http.MethodGet, c.baseURL+"/mediaItems/"+url.PathEscape(itemID), nil, &item); err != nil {
		return nil, fmt.Errorf("failed to get media item %s: %w", itemID, err)
	}
	return &item, nil
}

// Download fetches the original bytes of an item ("=d", or "=dv" for videos).
// Base URLs are pre-authorized, so no token is sent.
func (c *Client) Download(ctx context.Context, item *MediaItem) ([]byte, error) {
	if item.BaseURL == "" {
		return nil, fmt.Errorf("media item %s has no base url", item.ID)
	}
	suffix := "=d"
	if item.IsVideo() {
		suffix = "=dv"
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.BaseURL+suffix, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", item.ID, err)
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", item.ID, err)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read download of %s: %w", item.ID, err)
	}
	if len(data) > MaxDownloadBytes {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, item.ID)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDownload, item.ID)
	}
	return data, nil
}

// Upload stores data in the target library and returns the new media item id.
// It posts the raw bytes to /uploads for an upload token, then creates the item.
func (c *Client) Upload(ctx context.Context, accessToken string, data []byte, fileName string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyUpload
	}

	uploadToken, err := c.uploadBytes(ctx, accessToken, data, fileName)
	if err != nil {
		return "", err
	}

	req := batchCreateRequest{NewMediaItems: []newMediaItem{{
		Description:     fileName,
		SimpleMediaItem: simpleMediaItem{UploadToken: uploadToken, FileName: fileName},
	}}}
	var resp batchCreateResponse
	if err := c.doJSON(ctx, accessToken, http.MethodPost, c.baseURL+"/mediaItems:batchCreate", req, &resp); err != nil {
		return "", fmt.Errorf("failed to create media item: %w", err)
	}

	if len(resp.NewMediaItemResults) == 0 {
		return "", fmt.Errorf("failed to create media item: empty result")
	}
	result := resp.NewMediaItemResults[0]
	if result.Status != nil && result.Status.Code != 0 {
		return "", fmt.Errorf("failed to create media item: %s (code %d)", result.Status.Message, result.Status.Code)
	}
	if result.MediaItem == nil || result.MediaItem.ID == "" {
		return "", fmt.Errorf("failed to create media item: no item returned")
	}

	log.Infof("Uploaded %s as media item %s", fileName, result.MediaItem.ID)
	return result.MediaItem.ID, nil
}

func (c *Client) uploadBytes(ctx context.Context, accessToken string, data []byte, fileName string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	hc, err := c.authorizedClient(ctx, accessToken)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/uploads", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Goog-Upload-File-Name", fileName)
	req.Header.Set("X-Goog-Upload-Protocol", "raw")

	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload bytes: %w", err)
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		return "", fmt.Errorf("failed to upload bytes: %w", err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload token: %w", err)
	}
	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", fmt.Errorf("failed to upload bytes: empty upload token")
	}
	return token, nil
}

func (c *Client) doJSON(ctx context.Context, accessToken, method, endpoint string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	hc, err := c.authorizedClient(ctx, accessToken)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) authorizedClient(ctx context.Context, accessToken string) (*http.Client, error) {
	token := &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}
	hc, _, err := htransport.NewClient(ctx, option.WithTokenSource(oauth2.StaticTokenSource(token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Photos HTTP client: %w", err)
	}
	return hc, nil
}

// StatusCode extracts the HTTP status of a gateway error, or 0 when there is none.
func StatusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}
