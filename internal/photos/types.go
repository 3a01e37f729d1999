package photos

import "fmt"

// Album mirrors the Photos Library album resource. Fields the API may omit are pointers.
type Album struct {
	ID                    string  `json:"id"`
	Title                 string  `json:"title"`
	ProductURL            string  `json:"productUrl,omitempty"`
	IsWriteable           *bool   `json:"isWriteable,omitempty"`
	MediaItemsCount       *int64  `json:"mediaItemsCount,string,omitempty"`
	CoverPhotoBaseURL     *string `json:"coverPhotoBaseUrl,omitempty"`
	CoverPhotoMediaItemID *string `json:"coverPhotoMediaItemId,omitempty"`
}

// MediaItem mirrors the Photos Library media item resource.
type MediaItem struct {
	ID            string         `json:"id"`
	Description   *string        `json:"description,omitempty"`
	ProductURL    string         `json:"productUrl,omitempty"`
	BaseURL       string         `json:"baseUrl,omitempty"`
	MimeType      *string        `json:"mimeType,omitempty"`
	Filename      *string        `json:"filename,omitempty"`
	MediaMetadata *MediaMetadata `json:"mediaMetadata,omitempty"`
}

type MediaMetadata struct {
	CreationTime *string        `json:"creationTime,omitempty"`
	Width        *string        `json:"width,omitempty"`
	Height       *string        `json:"height,omitempty"`
	Photo        *PhotoMetadata `json:"photo,omitempty"`
	Video        *VideoMetadata `json:"video,omitempty"`
}

type PhotoMetadata struct {
	CameraMake  *string `json:"cameraMake,omitempty"`
	CameraModel *string `json:"cameraModel,omitempty"`
}

type VideoMetadata struct {
	Fps    *float64 `json:"fps,omitempty"`
	Status *string  `json:"status,omitempty"`
}

// FileName returns the item's filename, or photo_<id>.jpg when the API omitted it.
func (m *MediaItem) FileName() string {
	if m.Filename != nil && *m.Filename != "" {
		return *m.Filename
	}
	return fmt.Sprintf("photo_%s.jpg", m.ID)
}

// IsVideo reports whether the item carries video metadata
func (m *MediaItem) IsVideo() bool {
	return m.MediaMetadata != nil && m.MediaMetadata.Video != nil
}

type listAlbumsResponse struct {
	Albums        []Album `json:"albums"`
	NextPageToken string  `json:"nextPageToken"`
}

type searchMediaItemsRequest struct {
	AlbumID   string `json:"albumId"`
	PageSize  int    `json:"pageSize"`
	PageToken string `json:"pageToken,omitempty"`
}

type searchMediaItemsResponse struct {
	MediaItems    []MediaItem `json:"mediaItems"`
	NextPageToken string      `json:"nextPageToken"`
}

type simpleMediaItem struct {
	UploadToken string `json:"uploadToken"`
	FileName    string `json:"fileName,omitempty"`
}

type newMediaItem struct {
	Description     string          `json:"description,omitempty"`
	SimpleMediaItem simpleMediaItem `json:"simpleMediaItem"`
}

type batchCreateRequest struct {
	NewMediaItems []newMediaItem `json:"newMediaItems"`
}

type itemStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type newMediaItemResult struct {
	UploadToken string      `json:"uploadToken"`
	Status      *itemStatus `json:"status,omitempty"`
	MediaItem   *MediaItem  `json:"mediaItem,omitempty"`
}

type batchCreateResponse struct {
	NewMediaItemResults []newMediaItemResult `json:"newMediaItemResults"`
}

// TokenRefreshResult is the outcome of a refresh-token grant
type TokenRefreshResult struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int    // seconds
	RefreshToken string // set only when the upstream rotated it
}

// IssuedCredential is what an authorization-code exchange yields
type IssuedCredential struct {
	Email        string
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
	Scope        string
}
