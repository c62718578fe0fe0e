package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/careerforge/coinwallet/pkg/wallet"
)

const (
	statusCredited  = "credited"
	statusDeducted  = "deducted"
	statusPending   = "pending"
	statusCompleted = "completed"
	statusRefunded  = "refunded"
	statusFailed    = "failed"
)

type amountRequest struct {
	Amount      int64           `json:"amount"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata"`
	Source      string          `json:"source"`
}

type reserveRequest struct {
	Amount        int64           `json:"amount"`
	TransactionID string          `json:"transactionId"`
	Description   string          `json:"description"`
	Metadata      json.RawMessage `json:"metadata"`
}

type completeRequest struct {
	TransactionID string          `json:"transactionId"`
	Metadata      json.RawMessage `json:"metadata"`
}

type refundRequest struct {
	TransactionID string `json:"transactionId"`
	Reason        string `json:"reason"`
}

type entryView struct {
	EntryID         string          `json:"entryId"`
	Direction       string          `json:"direction"`
	Amount          int64           `json:"amount"`
	Source          string          `json:"source"`
	Description     string          `json:"description,omitempty"`
	TransactionID   string          `json:"transactionId,omitempty"`
	Status          string          `json:"status,omitempty"`
	RefundOfEntryID string          `json:"refundOfEntryId,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	CreatedAt       int64           `json:"createdAt"`
}

func (server *Server) handleBalance(ctx *gin.Context) {
	userID, ok := server.pathUserID(ctx)
	if !ok {
		return
	}
	balance, err := server.service.Balance(ctx.Request.Context(), userID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"balance": balance.Int64()})
}

func (server *Server) handleCanAfford(ctx *gin.Context) {
	userID, ok := server.pathUserID(ctx)
	if !ok {
		return
	}
	price, err := strconv.ParseInt(ctx.Query("price"), 10, 64)
	if err != nil || price <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "price must be a positive integer"})
		return
	}
	affordable, balance, err := server.service.CanAfford(ctx.Request.Context(), userID, wallet.Coins(price))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": affordable, "balance": balance.Int64()})
}

func (server *Server) handleCredit(ctx *gin.Context) {
	server.handleBalanceMutation(ctx, statusCredited, server.service.Credit)
}

func (server *Server) handleDeduct(ctx *gin.Context) {
	server.handleBalanceMutation(ctx, statusDeducted, server.service.Debit)
}

func (server *Server) handleBalanceMutation(ctx *gin.Context, successStatus string, mutate func(ctx context.Context, userID wallet.UserID, amount wallet.Coins, source wallet.Source, description string, metadata wallet.MetadataJSON) (wallet.Wallet, error)) {
	userID, ok := server.pathUserID(ctx)
	if !ok {
		return
	}
	var request amountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	amount, err := wallet.NewCoins(request.Amount)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	source := wallet.SourceSystem
	if request.Source != "" {
		if source, err = wallet.ParseSource(request.Source); err != nil {
			server.respondError(ctx, err)
			return
		}
	}
	metadata, err := wallet.NewMetadataJSON(string(request.Metadata))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	updated, err := mutate(ctx.Request.Context(), userID, amount, source, request.Description, metadata)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": successStatus, "newBalance": updated.BalanceCoins.Int64()})
}

func (server *Server) handleReserve(ctx *gin.Context) {
	userID, ok := server.pathUserID(ctx)
	if !ok {
		return
	}
	var request reserveRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	amount, err := wallet.NewCoins(request.Amount)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	token := request.TransactionID
	if token == "" {
		token = uuid.NewString()
	}
	transactionID, err := wallet.NewTransactionID(token)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	metadata, err := wallet.NewMetadataJSON(string(request.Metadata))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	updated, _, err := server.service.Reserve(ctx.Request.Context(), userID, amount, transactionID, request.Description, metadata)
	if errors.Is(err, wallet.ErrInsufficientFunds) {
		balance, balanceErr := server.service.Balance(ctx.Request.Context(), userID)
		if balanceErr != nil {
			server.respondError(ctx, balanceErr)
			return
		}
		ctx.JSON(http.StatusPaymentRequired, gin.H{
			"status":  statusFailed,
			"error":   "insufficient funds",
			"balance": balance.Int64(),
		})
		return
	}
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status":        statusPending,
		"transactionId": transactionID.String(),
		"balance":       updated.BalanceCoins.Int64(),
	})
}

func (server *Server) handleComplete(ctx *gin.Context) {
	userID, ok := server.pathUserID(ctx)
	if !ok {
		return
	}
	var request completeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	transactionID, err := wallet.NewTransactionID(request.TransactionID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	metadata, err := wallet.NewMetadataJSON(string(request.Metadata))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if _, err := server.service.Complete(ctx.Request.Context(), userID, transactionID, metadata); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": statusCompleted, "transactionId": transactionID.String()})
}

func (server *Server) handleRefund(ctx *gin.Context) {
	userID, ok := server.pathUserID(ctx)
	if !ok {
		return
	}
	var request refundRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	transactionID, err := wallet.NewTransactionID(request.TransactionID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if _, err := server.service.Refund(ctx.Request.Context(), userID, transactionID, request.Reason); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": statusRefunded, "transactionId": transactionID.String()})
}

func (server *Server) handleTransactions(ctx *gin.Context) {
	userID, ok := server.pathUserID(ctx)
	if !ok {
		return
	}
	limit := defaultListLimit
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	entries, err := server.service.ListEntries(ctx.Request.Context(), userID, limit)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	views := make([]entryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, mapEntryView(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": views})
}

func (server *Server) handleTransactionStatus(ctx *gin.Context) {
	userID, ok := server.pathUserID(ctx)
	if !ok {
		return
	}
	transactionID, err := wallet.NewTransactionID(ctx.Param("transactionId"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	status, err := server.service.TransactionStatus(ctx.Request.Context(), userID, transactionID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if !status.Exists {
		ctx.JSON(http.StatusOK, gin.H{"exists": false})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"exists":        true,
		"transactionId": status.TransactionID,
		"status":        status.Status.String(),
		"amount":        status.AmountCoins.Int64(),
		"type":          status.Direction.String(),
		"createdAt":     status.CreatedUnixUTC,
		"metadata":      rawMetadata(status.MetadataJSON),
	})
}

func (server *Server) handleBreakdown(ctx *gin.Context) {
	userID, ok := server.pathUserID(ctx)
	if !ok {
		return
	}
	report, err := server.service.Breakdown(ctx.Request.Context(), userID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, mapBreakdownView(report))
}

func (server *Server) handleSubscriptionStats(ctx *gin.Context) {
	userID, ok := server.pathUserID(ctx)
	if !ok {
		return
	}
	stats, err := server.service.SubscriptionStats(ctx.Request.Context(), userID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"subscription":    mapSourceStatsView(stats.Subscription),
		"oneTimePurchase": mapSourceStatsView(stats.OneTimePurchase),
	})
}

func (server *Server) handleEnhancedBalance(ctx *gin.Context) {
	userID, ok := server.pathUserID(ctx)
	if !ok {
		return
	}
	enhanced, err := server.service.EnhancedBalance(ctx.Request.Context(), userID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"availableCoins": enhanced.AvailableCoins.Int64(),
		"breakdown":      mapBreakdownView(enhanced.Breakdown),
		"summary":        enhanced.Summary,
	})
}

func (server *Server) pathUserID(ctx *gin.Context) (wallet.UserID, bool) {
	userID, err := wallet.NewUserID(ctx.Param("userId"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return wallet.UserID{}, false
	}
	return userID, true
}

// respondError translates typed domain errors into status codes. Anything
// unrecognized is an internal failure and is logged rather than leaked.
func (server *Server) respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, wallet.ErrInvalidUserID),
		errors.Is(err, wallet.ErrInvalidTransactionID),
		errors.Is(err, wallet.ErrInvalidSource),
		errors.Is(err, wallet.ErrInvalidMetadataJSON):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, wallet.ErrInsufficientFunds):
		balance, balanceErr := server.service.Balance(ctx.Request.Context(), server.mustPathUserID(ctx))
		if balanceErr != nil {
			server.logger.Error("balance lookup after insufficient funds", zap.Error(balanceErr))
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		ctx.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient funds", "balance": balance.Int64()})
	case errors.Is(err, wallet.ErrDuplicateTransaction):
		ctx.JSON(http.StatusConflict, gin.H{"error": "duplicate transaction"})
	case errors.Is(err, wallet.ErrTransactionNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
	default:
		server.logger.Error("wallet operation failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (server *Server) mustPathUserID(ctx *gin.Context) wallet.UserID {
	userID, _ := wallet.NewUserID(ctx.Param("userId"))
	return userID
}

func mapEntryView(entry wallet.Entry) entryView {
	view := entryView{
		EntryID:         entry.EntryID,
		Direction:       entry.Direction.String(),
		Amount:          entry.AmountCoins.Int64(),
		Source:          entry.Source.String(),
		Description:     entry.Description,
		RefundOfEntryID: entry.RefundOfEntryID,
		Metadata:        rawMetadata(entry.MetadataJSON),
		CreatedAt:       entry.CreatedUnixUTC,
	}
	if !entry.Lifecycle.IsZero() {
		view.TransactionID = entry.Lifecycle.TransactionID.String()
		view.Status = entry.Lifecycle.Status.String()
	}
	return view
}

func mapBreakdownView(report wallet.BreakdownReport) gin.H {
	bySource := make([]gin.H, 0, len(report.BySource))
	for _, sourceBreakdown := range report.BySource {
		transactions := make([]entryView, 0, len(sourceBreakdown.Entries))
		for _, entry := range sourceBreakdown.Entries {
			transactions = append(transactions, mapEntryView(entry))
		}
		bySource = append(bySource, gin.H{
			"source":           sourceBreakdown.Source.String(),
			"amount":           sourceBreakdown.AmountCoins.Int64(),
			"percent":          sourceBreakdown.Percent,
			"transactionCount": sourceBreakdown.TransactionCount,
			"transactions":     transactions,
		})
	}
	return gin.H{
		"totalCredited": report.TotalCreditedCoins.Int64(),
		"bySource":      bySource,
	}
}

func rawMetadata(metadataJSON string) json.RawMessage {
	if metadataJSON == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(metadataJSON)
}

func mapSourceStatsView(stats wallet.SourceStats) gin.H {
	return gin.H{
		"totalCoins":       stats.TotalCoins.Int64(),
		"transactionCount": stats.TransactionCount,
		"lastCreditAt":     stats.LastCreditUnixUTC,
	}
}
