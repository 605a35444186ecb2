package controller

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/queue"
	"codejudge/internal/judge/service"
	"codejudge/pkg/utils/response"
)

// SubmitController handles submission HTTP endpoints.
type SubmitController struct {
	submitService *service.SubmitService
	queue         *queue.Service
}

// NewSubmitController creates a new SubmitController.
func NewSubmitController(submitService *service.SubmitService, queueService *queue.Service) *SubmitController {
	return &SubmitController{submitService: submitService, queue: queueService}
}

// Submit handles new submissions.
func (h *SubmitController) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	submission, err := h.submitService.Submit(
		c.Request.Context(),
		c.GetString("user_id"),
		c.GetString("user_role"),
		req.ChallengeID,
		model.Language(req.Language),
		req.Code,
	)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toSubmissionResponse(submission, false))
}

// Get returns one full submission record.
func (h *SubmitController) Get(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	submission, err := h.submitService.Get(
		c.Request.Context(),
		submissionID,
		c.GetString("user_id"),
		c.GetString("user_role"),
	)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toSubmissionResponse(submission, true))
}

// ListMine returns the caller's submissions, newest first.
func (h *SubmitController) ListMine(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	submissions, err := h.submitService.ListByUser(c.Request.Context(), c.GetString("user_id"), limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]SubmissionResponse, 0, len(submissions))
	for _, s := range submissions {
		items = append(items, toSubmissionResponse(s, false))
	}
	response.Success(c, ListResponse{Items: items, Count: len(items)})
}

// GetStatus returns the submission status for low-latency polling.
func (h *SubmitController) GetStatus(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	status, err := h.submitService.GetStatus(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, StatusResponse{SubmissionID: submissionID, Status: string(status)})
}

// Requeue puts a stranded submission back on its language queue.
func (h *SubmitController) Requeue(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	submission, err := h.submitService.Requeue(c.Request.Context(), submissionID, c.GetString("user_role"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toSubmissionResponse(submission, false))
}

// QueueHealth reports whether the queue backend is reachable.
func (h *SubmitController) QueueHealth(c *gin.Context) {
	if err := h.queue.Ping(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"status": "ok"})
}

// QueueLengths reports the depth of every language queue.
func (h *SubmitController) QueueLengths(c *gin.Context) {
	lengths, err := h.queue.Lengths(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make(map[string]int64, len(lengths))
	for lang, n := range lengths {
		out[string(lang)] = n
	}
	response.Success(c, out)
}

// SubmitRequest defines the submission payload.
type SubmitRequest struct {
	ChallengeID string `json:"challenge_id" binding:"required"`
	Language    string `json:"language" binding:"required"`
	Code        string `json:"code" binding:"required"`
}

// SubmissionResponse defines the submission payload returned to clients.
type SubmissionResponse struct {
	ID           string     `json:"id"`
	ChallengeID  string     `json:"challenge_id"`
	UserID       string     `json:"user_id"`
	Language     string     `json:"language"`
	Status       string     `json:"status"`
	Score        int        `json:"score"`
	TimeMSTotal  int64      `json:"time_ms_total"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Cases        []CaseView `json:"cases,omitempty"`
	CreatedAt    string     `json:"created_at"`
	UpdatedAt    string     `json:"updated_at"`
}

// CaseView is one per-case result. Hidden case payloads are not expanded
// here; test case inputs never leave the store through this API.
type CaseView struct {
	CaseID         string `json:"case_id"`
	Status         string `json:"status"`
	TimeMS         int64  `json:"time_ms"`
	MemoryMB       int64  `json:"memory_mb"`
	Output         string `json:"output,omitempty"`
	ExpectedOutput string `json:"expected_output,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	OrderIndex     int    `json:"order_index"`
}

// StatusResponse is the low-latency polling payload.
type StatusResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
}

// ListResponse wraps a submission listing.
type ListResponse struct {
	Items []SubmissionResponse `json:"items"`
	Count int                  `json:"count"`
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func toSubmissionResponse(s *model.Submission, withCases bool) SubmissionResponse {
	resp := SubmissionResponse{
		ID:           s.ID,
		ChallengeID:  s.ChallengeID,
		UserID:       s.UserID,
		Language:     string(s.Language),
		Status:       string(s.Status),
		Score:        s.Score,
		TimeMSTotal:  s.TimeMSTotal,
		ErrorMessage: s.ErrorMessage,
		CreatedAt:    s.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:    s.UpdatedAt.UTC().Format(timeLayout),
	}
	if withCases {
		resp.Cases = make([]CaseView, 0, len(s.Cases))
		for _, c := range s.Cases {
			resp.Cases = append(resp.Cases, CaseView{
				CaseID:         c.CaseID,
				Status:         string(c.Status),
				TimeMS:         c.TimeMS,
				MemoryMB:       c.MemoryMB,
				Output:         c.Output,
				ExpectedOutput: c.ExpectedOutput,
				ErrorMessage:   c.ErrorMessage,
				OrderIndex:     c.OrderIndex,
			})
		}
	}
	return resp
}
