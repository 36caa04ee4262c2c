package server

import (
	"net/http"
	"strings"
	"time"

	auditdomain "github.com/baridihq/baridi/internal/audit/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type listAuditEventsQuery struct {
	TransactionID string `form:"transaction_id"`
	CustomerID    string `form:"customer_id"`
	EventType     string `form:"event_type"`
	StartAt       string `form:"start_at"`
	EndAt         string `form:"end_at"`
	Limit         int    `form:"limit"`
}

type auditEventResponse struct {
	ID            string         `json:"id"`
	EventType     string         `json:"event_type"`
	Severity      string         `json:"severity"`
	Category      string         `json:"category"`
	TransactionID *string        `json:"transaction_id,omitempty"`
	TabID         *string        `json:"tab_id,omitempty"`
	CustomerID    *string        `json:"customer_id,omitempty"`
	ActorType     string         `json:"actor_type"`
	ActorID       *string        `json:"actor_id,omitempty"`
	EventData     map[string]any `json:"event_data"`
	IPAddress     *string        `json:"ip_address,omitempty"`
	CreatedAt     string         `json:"created_at"`
}

func (s *Server) ListAuditEvents(c *gin.Context) {
	var query listAuditEventsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	filter := auditdomain.ListFilter{
		TenantID:  tenantFromContext(c),
		EventType: strings.TrimSpace(query.EventType),
		Limit:     query.Limit,
	}

	if value := strings.TrimSpace(query.TransactionID); value != "" {
		id, err := snowflake.ParseString(value)
		if err != nil {
			AbortWithError(c, newValidationError("transaction_id", "invalid_transaction_id", "invalid transaction_id"))
			return
		}
		filter.TransactionID = &id
	}
	if value := strings.TrimSpace(query.CustomerID); value != "" {
		id, err := snowflake.ParseString(value)
		if err != nil {
			AbortWithError(c, newValidationError("customer_id", "invalid_customer_id", "invalid customer_id"))
			return
		}
		filter.CustomerID = &id
	}
	if value := strings.TrimSpace(query.StartAt); value != "" {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			AbortWithError(c, newValidationError("start_at", "invalid_start_at", "invalid start_at"))
			return
		}
		filter.StartAt = &parsed
	}
	if value := strings.TrimSpace(query.EndAt); value != "" {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			AbortWithError(c, newValidationError("end_at", "invalid_end_at", "invalid end_at"))
			return
		}
		filter.EndAt = &parsed
	}

	events, err := s.audit.List(s.requestContext(c), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	response := make([]auditEventResponse, 0, len(events))
	for _, event := range events {
		response = append(response, auditEventResponse{
			ID:            event.ID.String(),
			EventType:     event.EventType,
			Severity:      event.Severity,
			Category:      event.Category,
			TransactionID: idString(event.TransactionID),
			TabID:         idString(event.TabID),
			CustomerID:    idString(event.CustomerID),
			ActorType:     event.ActorType,
			ActorID:       event.ActorID,
			EventData:     event.EventData,
			IPAddress:     event.IPAddress,
			CreatedAt:     event.CreatedAt.UTC().Format(timeFormat),
		})
	}

	c.JSON(http.StatusOK, gin.H{"events": response})
}

func idString(id *snowflake.ID) *string {
	if id == nil {
		return nil
	}
	value := id.String()
	return &value
}
