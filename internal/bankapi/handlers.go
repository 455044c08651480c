package bankapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nunster3000/rydr-app-sub000/pkg/bank"
)

type httpHandler struct {
	logger    *zap.Logger
	accrual   *bank.AccrualEngine
	lifecycle *bank.CodeLifecycle
	transfer  *bank.TransferService
}

type recordRideRequest struct {
	RideID        string  `json:"ride_id"`
	DistanceMiles float64 `json:"distance_miles"`
}

type codeRequest struct {
	Code      string `json:"code"`
	BookingID string `json:"booking_id"`
}

type consumeRequest struct {
	Code   string `json:"code"`
	RideID string `json:"ride_id"`
}

type transferRequest struct {
	Code           string `json:"code"`
	RecipientEmail string `json:"recipient_email"`
	RecipientName  string `json:"recipient_name"`
	RecipientPhone string `json:"recipient_phone"`
}

type externalCodeRequest struct {
	Code      string `json:"code"`
	Email     string `json:"email"`
	BookingID string `json:"booking_id"`
}

type externalConsumeRequest struct {
	Code   string `json:"code"`
	Email  string `json:"email"`
	RideID string `json:"ride_id"`
}

func (handler *httpHandler) handleBankSummary(ctx *gin.Context) {
	accountID, ok := handler.callerAccount(ctx)
	if !ok {
		return
	}
	summary, err := handler.accrual.Summary(ctx.Request.Context(), accountID)
	if err != nil {
		handler.respondError(ctx, err, "cannot_load_bank")
		return
	}
	ridesToNextMint := bank.MintCadence - summary.EligibleCount%bank.MintCadence
	ctx.JSON(http.StatusOK, gin.H{
		"codes_available":    summary.CodesAvailable,
		"codes_earned":       summary.CodesEarned,
		"total_eligible":     summary.TotalEligible,
		"rides_to_next_mint": ridesToNextMint,
	})
}

func (handler *httpHandler) handleRecordRide(ctx *gin.Context) {
	accountID, ok := handler.callerAccount(ctx)
	if !ok {
		return
	}
	var request recordRideRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("validation", "expected JSON body"))
		return
	}
	rideID, err := bank.NewRideID(request.RideID)
	if err != nil {
		handler.respondError(ctx, err, "cannot_record")
		return
	}
	result, err := handler.accrual.RecordEligibleRide(ctx.Request.Context(), accountID, rideID, request.DistanceMiles)
	if err != nil {
		handler.respondError(ctx, err, "cannot_record")
		return
	}
	response := gin.H{"eligible": result.Eligible, "minted": nil}
	if result.Minted != nil {
		response["minted"] = result.Minted.String()
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) handleGetCode(ctx *gin.Context) {
	accountID, ok := handler.callerAccount(ctx)
	if !ok {
		return
	}
	value, err := bank.NewCodeValue(ctx.Param("value"))
	if err != nil {
		handler.respondError(ctx, err, "cannot_preview")
		return
	}
	voucher, err := handler.lifecycle.GetOwnedVoucher(ctx.Request.Context(), accountID, value)
	if err != nil {
		handler.respondError(ctx, err, "cannot_preview")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"value":     voucher.Value.String(),
		"status":    voucher.Status.String(),
		"max_miles": voucher.MaxMiles,
	})
}

func (handler *httpHandler) handlePreview(ctx *gin.Context) {
	accountID, ok := handler.callerAccount(ctx)
	if !ok {
		return
	}
	var request codeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("validation", "expected JSON body"))
		return
	}
	value, err := bank.NewCodeValue(request.Code)
	if err != nil {
		handler.respondError(ctx, err, "cannot_preview")
		return
	}
	if err := handler.lifecycle.Reserve(ctx.Request.Context(), accountID, value, request.BookingID); err != nil {
		handler.respondError(ctx, err, "cannot_preview")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true, "message": appliedMessage()})
}

func (handler *httpHandler) handleRelease(ctx *gin.Context) {
	accountID, ok := handler.callerAccount(ctx)
	if !ok {
		return
	}
	var request codeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("validation", "expected JSON body"))
		return
	}
	value, err := bank.NewCodeValue(request.Code)
	if err != nil {
		handler.respondError(ctx, err, "cannot_release")
		return
	}
	if err := handler.lifecycle.Release(ctx.Request.Context(), accountID, value); err != nil {
		handler.respondError(ctx, err, "cannot_release")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true})
}

func (handler *httpHandler) handleConsume(ctx *gin.Context) {
	accountID, ok := handler.callerAccount(ctx)
	if !ok {
		return
	}
	var request consumeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("validation", "expected JSON body"))
		return
	}
	value, err := bank.NewCodeValue(request.Code)
	if err != nil {
		handler.respondError(ctx, err, "cannot_consume")
		return
	}
	rideID, err := bank.NewRideID(request.RideID)
	if err != nil {
		handler.respondError(ctx, err, "cannot_consume")
		return
	}
	if err := handler.lifecycle.Consume(ctx.Request.Context(), accountID, value, rideID); err != nil {
		handler.respondError(ctx, err, "cannot_consume")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true})
}

func (handler *httpHandler) handleTransfer(ctx *gin.Context) {
	accountID, ok := handler.callerAccount(ctx)
	if !ok {
		return
	}
	var request transferRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("validation", "expected JSON body"))
		return
	}
	value, err := bank.NewCodeValue(request.Code)
	if err != nil {
		handler.respondError(ctx, err, "cannot_transfer")
		return
	}
	email, err := bank.NewEmail(request.RecipientEmail)
	if err != nil {
		handler.respondError(ctx, err, "cannot_transfer")
		return
	}
	senderName := ""
	if claims := getClaims(ctx); claims != nil {
		senderName = claims.Name
	}
	result, err := handler.transfer.Transfer(ctx.Request.Context(), accountID, value, email, request.RecipientName, request.RecipientPhone, senderName)
	if err != nil {
		handler.respondError(ctx, err, "cannot_transfer")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true, "recipient_is_account": result.RecipientIsAccount})
}

func (handler *httpHandler) handleExternalPreview(ctx *gin.Context) {
	var request externalCodeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("validation", "expected JSON body"))
		return
	}
	value, err := bank.NewCodeValue(request.Code)
	if err != nil {
		handler.respondError(ctx, err, "cannot_preview")
		return
	}
	email, err := bank.NewEmail(request.Email)
	if err != nil {
		handler.respondError(ctx, err, "cannot_preview")
		return
	}
	if err := handler.transfer.PreviewExternal(ctx.Request.Context(), value, email); err != nil {
		handler.respondError(ctx, err, "cannot_preview")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true, "message": appliedMessage()})
}

func (handler *httpHandler) handleExternalConsume(ctx *gin.Context) {
	var request externalConsumeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("validation", "expected JSON body"))
		return
	}
	value, err := bank.NewCodeValue(request.Code)
	if err != nil {
		handler.respondError(ctx, err, "cannot_consume")
		return
	}
	email, err := bank.NewEmail(request.Email)
	if err != nil {
		handler.respondError(ctx, err, "cannot_consume")
		return
	}
	rideID, err := bank.NewRideID(request.RideID)
	if err != nil {
		handler.respondError(ctx, err, "cannot_consume")
		return
	}
	if err := handler.transfer.ConsumeExternal(ctx.Request.Context(), value, email, rideID); err != nil {
		handler.respondError(ctx, err, "cannot_consume")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true})
}

func (handler *httpHandler) callerAccount(ctx *gin.Context) (bank.AccountID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return bank.AccountID{}, false
	}
	accountID, err := bank.NewAccountID(claims.UserID)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session"))
		return bank.AccountID{}, false
	}
	return accountID, true
}

// respondError maps domain errors onto the wire taxonomy; fallbackCode is
// the generic cannot_<op> wrapper used when no specific kind applies.
func (handler *httpHandler) respondError(ctx *gin.Context, err error, fallbackCode string) {
	status, code := http.StatusInternalServerError, fallbackCode
	switch {
	case errors.Is(err, bank.ErrInvalidAccountID),
		errors.Is(err, bank.ErrInvalidRideID),
		errors.Is(err, bank.ErrInvalidCodeValue),
		errors.Is(err, bank.ErrInvalidEmail),
		errors.Is(err, bank.ErrInvalidDistance):
		status, code = http.StatusBadRequest, "validation"
	case errors.Is(err, bank.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, bank.ErrNotOwner):
		status, code = http.StatusForbidden, "not_owner"
	case errors.Is(err, bank.ErrNotOwnerExternal):
		status, code = http.StatusForbidden, "not_owner_external"
	case errors.Is(err, bank.ErrNotActive):
		status, code = http.StatusConflict, "not_active"
	case errors.Is(err, bank.ErrBadStatus):
		status, code = http.StatusConflict, "bad_status"
	case errors.Is(err, bank.ErrNotTransferable):
		status, code = http.StatusConflict, "not_transferable"
	case errors.Is(err, bank.ErrStoreConflict):
		status, code = http.StatusServiceUnavailable, "store_conflict"
	default:
		handler.logger.Error("bank operation failed", zap.Error(err))
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

func appliedMessage() string {
	return fmt.Sprintf("code applied: covers up to %d miles of your ride", bank.VoucherMaxMiles)
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
