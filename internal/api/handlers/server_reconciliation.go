package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dpsrecon.io/reconciliation/internal/api/middleware"
	"dpsrecon.io/reconciliation/internal/domain"
	apperrors "dpsrecon.io/reconciliation/internal/pkg/errors"
	"dpsrecon.io/reconciliation/internal/pkg/logger"
	"dpsrecon.io/reconciliation/internal/service"
)

// responseTimeLayout renders range bounds in the canonical zone.
const responseTimeLayout = "2006-01-02T15:04:05"

// ReportResponse is the body returned by detect and housekeeping.
type ReportResponse struct {
	Summary string          `json:"summary"`
	Count   int64           `json:"count"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	Sample  []UnmatchedItem `json:"sample"`
}

// UnmatchedItem is one sampled unmatched row.
type UnmatchedItem struct {
	ID        int64     `json:"id"`
	MatchKind string    `json:"matchKind"`
	SubjectID string    `json:"subjectId"`
	CreatedAt time.Time `json:"createdAt"`
	Detail    string    `json:"detail"`
}

// DetectUnmatched handles GET /reconciliation/detect.
func (s *Server) DetectUnmatched(c *gin.Context) {
	from, to, ok := s.timeRange(c)
	if !ok {
		return
	}

	report, err := s.housekeeping.Report(c.Request.Context(), from, to)
	if err != nil {
		_ = c.Error(err)
		return
	}
	s.writeReport(c, report)
}

// RunHousekeeping handles PUT /reconciliation/housekeeping: purge, batch
// reconciliation, then a report over the same range.
func (s *Server) RunHousekeeping(c *gin.Context) {
	from, to, ok := s.timeRange(c)
	if !ok {
		return
	}

	logger.Info("Housekeeping requested",
		zap.String("principal", middleware.GetPrincipal(c.Request.Context())),
		zap.Time("from", from),
		zap.Time("to", to),
	)

	report, err := s.housekeeping.Housekeeping(c.Request.Context(), from, to)
	if err != nil {
		_ = c.Error(err)
		return
	}
	s.writeReport(c, report)
}

// timeRange reads the optional from/to parameters. A missing bound takes
// its default; an unparseable or empty range is rejected.
func (s *Server) timeRange(c *gin.Context) (time.Time, time.Time, bool) {
	from, to := service.DefaultRange(s.now().In(s.loc), s.fromOffset, s.toOffset)

	if raw := c.Query("from"); raw != "" {
		t, err := domain.ParseLocalTime(raw, s.loc)
		if err != nil {
			_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidTimeRange, "from is not a valid datetime"))
			return time.Time{}, time.Time{}, false
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := domain.ParseLocalTime(raw, s.loc)
		if err != nil {
			_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidTimeRange, "to is not a valid datetime"))
			return time.Time{}, time.Time{}, false
		}
		to = t
	}
	if !from.Before(to) {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidTimeRange, "from must be before to"))
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// writeReport answers with the plain summary line when the client asks for
// text/plain and with a ReportResponse otherwise.
func (s *Server) writeReport(c *gin.Context, report service.Report) {
	if c.NegotiateFormat(gin.MIMEJSON, gin.MIMEPlain) == gin.MIMEPlain {
		c.String(http.StatusOK, report.Summary())
		return
	}
	c.JSON(http.StatusOK, s.toResponse(report))
}

func (s *Server) toResponse(report service.Report) ReportResponse {
	sample := make([]UnmatchedItem, 0, len(report.Sample))
	for _, row := range report.Sample {
		sample = append(sample, UnmatchedItem{
			ID:        row.ID,
			MatchKind: string(row.MatchKind),
			SubjectID: row.SubjectID,
			CreatedAt: row.CreatedAt,
			Detail:    row.String(),
		})
	}
	return ReportResponse{
		Summary: report.Summary(),
		Count:   report.Count,
		From:    report.From.In(s.loc).Format(responseTimeLayout),
		To:      report.To.In(s.loc).Format(responseTimeLayout),
		Sample:  sample,
	}
}
