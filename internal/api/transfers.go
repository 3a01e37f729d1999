package api

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/vipul43/photo-porter/internal/models"
	"github.com/vipul43/photo-porter/internal/service"
)

const (
	statusQueued         = "QUEUED"
	statusRetryInitiated = "RETRY_INITIATED"
)

// TransferRequest is the body of POST /transfers
type TransferRequest struct {
	SourceEmail string   `json:"sourceEmail"`
	TargetEmail string   `json:"targetEmail"`
	ItemIDs     []string `json:"itemIds"`
	Async       bool     `json:"async,omitempty"`
}

// TransferAccepted is returned once a batch has been started or queued
type TransferAccepted struct {
	Message     string `json:"message"`
	SourceEmail string `json:"sourceEmail"`
	TargetEmail string `json:"targetEmail"`
	ItemCount   int    `json:"itemCount"`
	QueuedCount *int   `json:"queuedCount,omitempty"`
	Status      string `json:"status"`
}

type TransferResponse struct {
	ID              string     `json:"id"`
	SourceAccountID string     `json:"sourceAccountId"`
	TargetAccountID string     `json:"targetAccountId"`
	ItemID          string     `json:"itemId"`
	FileName        *string    `json:"fileName,omitempty"`
	RemoteItemID    *string    `json:"remoteItemId,omitempty"`
	Status          string     `json:"status"`
	Attempts        int        `json:"attempts,omitempty"`
	StartedAt       time.Time  `json:"startedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	ErrorMessage    *string    `json:"errorMessage,omitempty"`
}

type TransferStatusResponse struct {
	TransferID   string     `json:"transferId"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt"`
	ErrorMessage *string    `json:"errorMessage"`
}

type TransferLogResponse struct {
	Timestamp time.Time              `json:"timestamp"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

func newTransferResponse(rec *models.TransferRecord) TransferResponse {
	return TransferResponse{
		ID:              rec.ID,
		SourceAccountID: rec.SourceAccountID,
		TargetAccountID: rec.TargetAccountID,
		ItemID:          rec.ItemID,
		FileName:        rec.FileName,
		RemoteItemID:    rec.RemoteItemID,
		Status:          rec.Status.String(),
		Attempts:        rec.Attempts,
		StartedAt:       rec.StartedAt,
		CompletedAt:     rec.CompletedAt,
		ErrorMessage:    rec.ErrorMessage,
	}
}

func newQueuedTransferResponse(tr *models.Transfer) TransferResponse {
	return TransferResponse{
		ID:              tr.ID,
		SourceAccountID: tr.SourceAccountID,
		TargetAccountID: tr.TargetAccountID,
		ItemID:          tr.ItemID,
		FileName:        tr.FileName,
		RemoteItemID:    tr.RemoteItemID,
		Status:          tr.Status.String(),
		StartedAt:       tr.StartedAt,
		CompletedAt:     tr.CompletedAt,
		ErrorMessage:    tr.ErrorMessage,
	}
}

// handleCreateTransfer validates and resolves the request synchronously, then
// runs the batch in the background or hands it to the queue.
func (s *Server) handleCreateTransfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if statusFor(err, true) == http.StatusRequestEntityTooLarge {
			writeError(c, err, true)
			return
		}
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	svcReq := service.TransferRequest{
		SourceEmail: req.SourceEmail,
		TargetEmail: req.TargetEmail,
		ItemIDs:     req.ItemIDs,
	}
	resp := TransferAccepted{
		SourceEmail: req.SourceEmail,
		TargetEmail: req.TargetEmail,
		ItemCount:   len(req.ItemIDs),
	}

	if req.Async {
		queued, err := s.transfers.Queue(c.Request.Context(), svcReq)
		if err != nil {
			writeError(c, err, true)
			return
		}
		resp.Message = "Transfer queued"
		resp.QueuedCount = &queued
		resp.Status = statusQueued
		c.JSON(http.StatusAccepted, resp)
		return
	}

	batch, err := s.transfers.Prepare(c.Request.Context(), svcReq)
	if err != nil {
		writeError(c, err, true)
		return
	}

	s.runInBackground(func(ctx context.Context) {
		result := batch.Run(ctx)
		log.Infof("Transfer from %s to %s finished: %d succeeded, %d failed",
			req.SourceEmail, req.TargetEmail, result.Succeeded, result.Failed)
	})

	resp.Message = "Transfer started"
	resp.Status = models.StatusInProgress.String()
	c.JSON(http.StatusAccepted, resp)
}

func (s *Server) handleListTransfers(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		badRequest(c, "email query parameter is required")
		return
	}

	records, err := s.transfers.ListForUser(c.Request.Context(), email)
	if err != nil {
		writeError(c, err, false)
		return
	}

	resp := make([]TransferResponse, 0, len(records))
	for i := range records {
		resp = append(resp, newTransferResponse(&records[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListQueuedTransfers(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		badRequest(c, "email query parameter is required")
		return
	}

	transfers, err := s.transfers.ListQueuedForUser(c.Request.Context(), email)
	if err != nil {
		writeError(c, err, false)
		return
	}

	resp := make([]TransferResponse, 0, len(transfers))
	for i := range transfers {
		resp = append(resp, newQueuedTransferResponse(&transfers[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetTransfer(c *gin.Context) {
	rec, err := s.transfers.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, newTransferResponse(rec))
}

func (s *Server) handleTransferStatus(c *gin.Context) {
	rec, err := s.transfers.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, TransferStatusResponse{
		TransferID:   rec.ID,
		Status:       rec.Status.String(),
		StartedAt:    rec.StartedAt,
		CompletedAt:  rec.CompletedAt,
		ErrorMessage: rec.ErrorMessage,
	})
}

func (s *Server) handleRetryTransfer(c *gin.Context) {
	id := c.Param("id")
	batch, err := s.transfers.PrepareRetry(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, true)
		return
	}

	s.runInBackground(func(ctx context.Context) {
		result := batch.Run(ctx)
		log.Infof("Retry of transfer %s finished: %d succeeded, %d failed", id, result.Succeeded, result.Failed)
	})

	c.JSON(http.StatusAccepted, gin.H{
		"message":    "Retry initiated",
		"transferId": id,
		"status":     statusRetryInitiated,
	})
}

func (s *Server) handleTransferLogs(c *gin.Context) {
	logs, err := s.transfers.Logs(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, false)
		return
	}

	resp := make([]TransferLogResponse, 0, len(logs))
	for _, l := range logs {
		resp = append(resp, TransferLogResponse{
			Timestamp: l.Timestamp,
			Message:   l.Message,
			Details:   l.Details,
		})
	}
	c.JSON(http.StatusOK, resp)
}
