package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vipul43/photo-porter/internal/photos"
)

type AlbumTransferRequest struct {
	SourceEmail string `json:"sourceEmail"`
	TargetEmail string `json:"targetEmail"`
}

// accessToken resolves the fresh token of the ?email= account, writing the
// error response itself when it fails.
func (s *Server) accessToken(c *gin.Context) (string, bool) {
	email := c.Query("email")
	if email == "" {
		badRequest(c, "email query parameter is required")
		return "", false
	}
	token, err := s.accounts.AccessToken(c.Request.Context(), email)
	if err != nil {
		writeError(c, err, false)
		return "", false
	}
	return token, true
}

func (s *Server) handleListAlbums(c *gin.Context) {
	token, ok := s.accessToken(c)
	if !ok {
		return
	}

	albums, err := s.photos.ListAlbums(c.Request.Context(), token)
	if err != nil {
		writeError(c, err, false)
		return
	}
	if albums == nil {
		albums = []photos.Album{}
	}
	c.JSON(http.StatusOK, gin.H{"albums": albums})
}

func (s *Server) handleGetAlbum(c *gin.Context) {
	token, ok := s.accessToken(c)
	if !ok {
		return
	}

	album, err := s.photos.GetAlbum(c.Request.Context(), token, c.Param("albumId"))
	if err != nil {
		writeError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, album)
}

func (s *Server) handleListAlbumItems(c *gin.Context) {
	token, ok := s.accessToken(c)
	if !ok {
		return
	}

	items, err := s.photos.ListItems(c.Request.Context(), token, c.Param("albumId"))
	if err != nil {
		writeError(c, err, false)
		return
	}
	if items == nil {
		items = []photos.MediaItem{}
	}
	c.JSON(http.StatusOK, gin.H{"mediaItems": items})
}

// handleTransferAlbum queues every item of the album
func (s *Server) handleTransferAlbum(c *gin.Context) {
	var req AlbumTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if statusFor(err, true) == http.StatusRequestEntityTooLarge {
			writeError(c, err, true)
			return
		}
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	albumID := c.Param("albumId")
	queued, err := s.transfers.QueueAlbum(c.Request.Context(), req.SourceEmail, req.TargetEmail, albumID)
	if err != nil {
		writeError(c, err, true)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":     "Album transfer queued",
		"albumId":     albumID,
		"sourceEmail": req.SourceEmail,
		"targetEmail": req.TargetEmail,
		"queuedCount": queued,
		"status":      statusQueued,
	})
}
