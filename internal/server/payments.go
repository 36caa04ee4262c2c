package server

import (
	"net/http"

	gwdomain "github.com/baridihq/baridi/internal/gateway/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type initiatePaymentRequest struct {
	TabID                string `json:"tab_id"`
	CustomerID           string `json:"customer_id"`
	PhoneNumber          string `json:"phone_number"`
	Amount               int64  `json:"amount"`
	Environment          string `json:"environment"`
	RetryOfTransactionID string `json:"retry_of_transaction_id"`
}

type initiatePaymentResponse struct {
	TransactionID     string `json:"transaction_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
	CustomerMessage   string `json:"customer_message"`
}

func (s *Server) InitiatePayment(c *gin.Context) {
	var req initiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tabID, err := snowflake.ParseString(req.TabID)
	if err != nil || tabID == 0 {
		AbortWithError(c, newValidationError("tab_id", "invalid_tab_id", "invalid tab_id"))
		return
	}
	if req.Amount <= 0 {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount must be a positive number of shillings"))
		return
	}

	phone, err := NormalizePhone(req.PhoneNumber)
	if err != nil {
		AbortWithError(c, newValidationError("phone_number", "invalid_phone_number", "invalid Kenyan phone number"))
		return
	}

	input := gwdomain.InitiateInput{
		TenantID:    tenantFromContext(c),
		TabID:       tabID,
		PhoneNumber: phone,
		Amount:      req.Amount,
		Environment: s.defaultEnvironment(req.Environment),
		IPAddress:   c.ClientIP(),
	}
	if req.CustomerID != "" {
		customerID, err := snowflake.ParseString(req.CustomerID)
		if err != nil {
			AbortWithError(c, newValidationError("customer_id", "invalid_customer_id", "invalid customer_id"))
			return
		}
		input.CustomerID = &customerID
	}
	if req.RetryOfTransactionID != "" {
		retryOf, err := snowflake.ParseString(req.RetryOfTransactionID)
		if err != nil {
			AbortWithError(c, newValidationError("retry_of_transaction_id", "invalid_retry_of_transaction_id", "invalid retry_of_transaction_id"))
			return
		}
		input.RetryOfTransactionID = &retryOf
	}

	result, err := s.payments.Initiate(s.requestContext(c), input)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Accepted, not created: settlement arrives later on the callback.
	c.JSON(http.StatusAccepted, initiatePaymentResponse{
		TransactionID:     result.TransactionID.String(),
		CheckoutRequestID: result.CheckoutRequestID,
		CustomerMessage:   result.CustomerMessage,
	})
}

type transactionResponse struct {
	ID                string  `json:"id"`
	TabID             string  `json:"tab_id"`
	PhoneNumber       string  `json:"phone_number"`
	Amount            int64   `json:"amount"`
	Environment       string  `json:"environment"`
	Status            string  `json:"status"`
	CheckoutRequestID *string `json:"checkout_request_id,omitempty"`
	ReceiptNumber     *string `json:"receipt_number,omitempty"`
	FailureReason     *string `json:"failure_reason,omitempty"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

func (s *Server) GetTransaction(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("transaction_id"))
	if err != nil {
		AbortWithError(c, newValidationError("transaction_id", "invalid_transaction_id", "invalid transaction_id"))
		return
	}

	txn, err := s.transactions.FindByID(s.requestContext(c), tenantFromContext(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, transactionResponse{
		ID:                txn.ID.String(),
		TabID:             txn.TabID.String(),
		PhoneNumber:       txn.PhoneNumber,
		Amount:            txn.Amount,
		Environment:       txn.Environment,
		Status:            txn.Status,
		CheckoutRequestID: txn.CheckoutRequestID,
		ReceiptNumber:     txn.ReceiptNumber,
		FailureReason:     txn.FailureReason,
		CreatedAt:         txn.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:         txn.UpdatedAt.UTC().Format(timeFormat),
	})
}
