package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/payflow/internal/payment/domain"
)

type transactionResponse struct {
	Reference             string         `json:"reference"`
	OrgID                 string         `json:"org_id"`
	Provider              string         `json:"provider"`
	Kind                  string         `json:"kind"`
	Amount                string         `json:"amount"`
	Currency              string         `json:"currency"`
	Status                string         `json:"status"`
	OrderID               *string        `json:"order_id,omitempty"`
	ProviderTransactionID *string        `json:"provider_transaction_id,omitempty"`
	ErrorCode             *string        `json:"error_code,omitempty"`
	ErrorMessage          *string        `json:"error_message,omitempty"`
	ErrorRetryable        *bool          `json:"error_retryable,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	CompletedAt           *time.Time     `json:"completed_at,omitempty"`
}

type refundResponse struct {
	Reference            string     `json:"reference"`
	TransactionReference string     `json:"transaction_reference,omitempty"`
	Amount               string     `json:"amount"`
	Currency             string     `json:"currency"`
	Status               string     `json:"status"`
	Reason               *string    `json:"reason,omitempty"`
	ProviderRefundID     *string    `json:"provider_refund_id,omitempty"`
	ErrorMessage         *string    `json:"error_message,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

func toTransactionResponse(txn *paymentdomain.PaymentTransaction) transactionResponse {
	resp := transactionResponse{
		Reference:             txn.Reference,
		OrgID:                 txn.OrgID.String(),
		Provider:              txn.ProviderKind,
		Kind:                  string(txn.Kind),
		Amount:                txn.Money().Decimal().StringFixed(2),
		Currency:              txn.Currency,
		Status:                string(txn.Status),
		ProviderTransactionID: txn.ProviderTransactionID,
		ErrorCode:             txn.ErrorCode,
		ErrorMessage:          txn.ErrorMessage,
		ErrorRetryable:        txn.ErrorRetryable,
		Metadata:              txn.Metadata,
		CreatedAt:             txn.CreatedAt,
		CompletedAt:           txn.CompletedAt,
	}
	if txn.OrderID != nil {
		orderID := txn.OrderID.String()
		resp.OrderID = &orderID
	}
	return resp
}

func toRefundResponse(refund *paymentdomain.PaymentRefund) refundResponse {
	return refundResponse{
		Reference:        refund.Reference,
		Amount:           refund.Money().Decimal().StringFixed(2),
		Currency:         refund.Currency,
		Status:           string(refund.Status),
		Reason:           refund.Reason,
		ProviderRefundID: refund.ProviderRefundID,
		ErrorMessage:     refund.ErrorMessage,
		CreatedAt:        refund.CreatedAt,
		CompletedAt:      refund.CompletedAt,
	}
}

func (s *Server) CreatePayment(c *gin.Context) {
	orgID, ok := orgFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req paymentdomain.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.OrgID = orgID
	req.ClientIP = c.ClientIP()
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	}

	txn, err := s.paymentSvc.CreatePayment(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toTransactionResponse(txn))
}

func (s *Server) GetPayment(c *gin.Context) {
	orgID, ok := orgFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	txn, err := s.paymentSvc.GetByReference(c.Request.Context(), orgID, c.Param("reference"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransactionResponse(txn))
}

func (s *Server) ListPayments(c *gin.Context) {
	orgID, ok := orgFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	ctx := c.Request.Context()

	if rawOrder := strings.TrimSpace(c.Query("order_id")); rawOrder != "" {
		orderID, err := snowflake.ParseString(rawOrder)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		txns, err := s.paymentSvc.ListByOrder(ctx, orgID, orderID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"payments": toTransactionResponses(txns)})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	txns, err := s.paymentSvc.ListByStore(ctx, orgID, limit, offset)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": toTransactionResponses(txns)})
}

func (s *Server) ProcessPayment(c *gin.Context) {
	orgID, ok := orgFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	txn, err := s.paymentSvc.ProcessPayment(c.Request.Context(), orgID, c.Param("reference"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransactionResponse(txn))
}

func (s *Server) VoidPayment(c *gin.Context) {
	orgID, ok := orgFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req paymentdomain.VoidRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	txn, err := s.paymentSvc.VoidPayment(c.Request.Context(), orgID, c.Param("reference"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransactionResponse(txn))
}

func (s *Server) RequestRefund(c *gin.Context) {
	orgID, ok := orgFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req paymentdomain.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	refund, err := s.paymentSvc.RequestRefund(c.Request.Context(), orgID, c.Param("reference"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toRefundResponse(refund))
}

func (s *Server) ProcessRefund(c *gin.Context) {
	orgID, ok := orgFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	refund, err := s.paymentSvc.ProcessRefund(c.Request.Context(), orgID, c.Param("reference"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRefundResponse(refund))
}

func (s *Server) ListRefunds(c *gin.Context) {
	orgID, ok := orgFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	refunds, err := s.paymentSvc.ListRefunds(c.Request.Context(), orgID, c.Param("reference"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := make([]refundResponse, 0, len(refunds))
	for _, refund := range refunds {
		out = append(out, toRefundResponse(refund))
	}
	c.JSON(http.StatusOK, gin.H{"refunds": out})
}

func toTransactionResponses(txns []*paymentdomain.PaymentTransaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(txns))
	for _, txn := range txns {
		out = append(out, toTransactionResponse(txn))
	}
	return out
}
