// Package api exposes the core's operations (§6) over HTTP: begin_batch,
// submit_order, cancel_order, estimate_volume, close_batch, settle_batch,
// get_batch. It is a thin translation layer — every validation and
// invariant lives in internal/batch; this package only does wire
// marshaling, the admission throttle, the audit log, and WebSocket push.
package api

import (
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/batchdex/solver/internal/batch"
	"github.com/batchdex/solver/internal/domain"
	"github.com/batchdex/solver/internal/fixedpoint"
	"github.com/batchdex/solver/internal/risk"
	"github.com/batchdex/solver/internal/settlement"
	"github.com/batchdex/solver/internal/storage"
	"github.com/batchdex/solver/internal/websocket"
	"github.com/batchdex/solver/pkg/orderhash"
)

// Handler adapts the batch engine to gin routes. Push notification to
// WebSocket subscribers is layered in here, at the service tier, rather
// than inside the core engine (§9 "global singletons / push-style
// notification belongs above the core").
type Handler struct {
	engine   *batch.Engine
	throttle *risk.Throttle
	auditLog *storage.AuditLog
	hub      *websocket.Hub
	logger   *logrus.Logger
}

// NewHandler builds a Handler. auditLog, throttle, and hub may all be nil
// (no persistence / no rate limiting / no push notification configured).
func NewHandler(engine *batch.Engine, throttle *risk.Throttle, auditLog *storage.AuditLog, hub *websocket.Hub, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{engine: engine, throttle: throttle, auditLog: auditLog, hub: hub, logger: logger}
}

func errStatus(kind batch.ErrKind) int {
	switch kind {
	case batch.ErrNotFound:
		return http.StatusNotFound
	case batch.ErrNotOwner:
		return http.StatusForbidden
	case batch.ErrBatchClosed, batch.ErrBatchFull, batch.ErrInvalidEnvelope,
		batch.ErrDuplicateID, batch.ErrWrongPhase, batch.ErrAlreadyClosed,
		batch.ErrNotClosed, batch.ErrInvalidDuration, batch.ErrInvalidState:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(c *gin.Context, err *batch.Error) {
	c.JSON(errStatus(err.Kind), gin.H{"error": string(err.Kind), "message": err.Message})
}

// beginBatchRequest is begin_batch's request body.
type beginBatchRequest struct {
	PairID          string `json:"pair_id" binding:"required"`
	DurationSeconds int64  `json:"duration_seconds" binding:"required"`
}

// BeginBatch handles POST /api/v1/batches.
func (h *Handler) BeginBatch(c *gin.Context) {
	var req beginBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "InvalidRequest", "message": err.Error()})
		return
	}

	id, err := h.engine.BeginBatch(req.PairID, req.DurationSeconds)
	if err != nil {
		writeErr(c, err)
		return
	}

	h.logger.WithFields(logrus.Fields{"batch_id": id, "pair_id": req.PairID}).Info("api: batch opened")
	h.publishBatchUpdate(id, req.PairID, "Open", "opened")
	c.JSON(http.StatusCreated, gin.H{"batch_id": id})
}

func (h *Handler) publishBatchUpdate(batchID uuid.UUID, pairID, phase, eventType string) {
	if h.hub == nil {
		return
	}
	h.hub.PublishBatchUpdate(websocket.BatchUpdate{
		BatchID:   batchID,
		PairID:    pairID,
		Phase:     phase,
		EventType: eventType,
		Timestamp: time.Now(),
	})
}

// submitOrderRequest is submit_order's request body. Trader and envelope
// are hex-encoded; public_price is a decimal string (§4.1 forgiving parse).
type submitOrderRequest struct {
	Trader      string `json:"trader" binding:"required"`
	Side        string `json:"side" binding:"required"`
	PublicPrice string `json:"public_price" binding:"required"`
	Envelope    string `json:"envelope" binding:"required"`
}

func parseTrader(s string) (domain.TraderID, bool) {
	if !common.IsHexAddress(s) {
		return domain.TraderID{}, false
	}
	return orderhash.TraderFromAddress(common.HexToAddress(s)), true
}

func parseSide(s string) (domain.Side, bool) {
	switch strings.ToLower(s) {
	case "buy":
		return domain.SideBuy, true
	case "sell":
		return domain.SideSell, true
	default:
		return 0, false
	}
}

// SubmitOrder handles POST /api/v1/batches/:batch_id/orders.
func (h *Handler) SubmitOrder(c *gin.Context) {
	batchID, err := uuid.Parse(c.Param("batch_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "InvalidBatchID"})
		return
	}

	var req submitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "InvalidRequest", "message": err.Error()})
		return
	}

	trader, ok := parseTrader(req.Trader)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "InvalidTrader"})
		return
	}
	side, ok := parseSide(req.Side)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "InvalidSide"})
		return
	}
	envelopeBytes, hexErr := hex.DecodeString(strings.TrimPrefix(req.Envelope, "0x"))
	if hexErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "InvalidEnvelope", "message": hexErr.Error()})
		return
	}
	price := fixedpoint.FromString(req.PublicPrice)

	if h.throttle != nil {
		result := h.throttle.CheckSubmit(c.Request.Context(), req.Trader)
		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": result.Code, "message": result.Reason})
			return
		}
	}

	orderID, submitErr := h.engine.SubmitOrder(batchID, trader, side, price, envelopeBytes)
	if submitErr != nil {
		if h.throttle != nil && (submitErr.Kind == batch.ErrInvalidEnvelope || submitErr.Kind == batch.ErrDuplicateID) {
			h.throttle.RecordRejection(c.Request.Context(), req.Trader)
		}
		writeErr(c, submitErr)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"order_id": hex.EncodeToString(orderID[:])})
}

// CancelOrder handles DELETE /api/v1/batches/:batch_id/orders/:order_id.
func (h *Handler) CancelOrder(c *gin.Context) {
	batchID, err := uuid.Parse(c.Param("batch_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "InvalidBatchID"})
		return
	}

	orderIDBytes, hexErr := hex.DecodeString(strings.TrimPrefix(c.Param("order_id"), "0x"))
	var orderID domain.OrderID
	if hexErr != nil || len(orderIDBytes) != len(orderID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "InvalidOrderID"})
		return
	}
	copy(orderID[:], orderIDBytes)

	traderStr := c.Query("trader")
	trader, ok := parseTrader(traderStr)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "InvalidTrader"})
		return
	}

	if h.throttle != nil {
		result := h.throttle.CheckCancel(c.Request.Context(), traderStr)
		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": result.Code, "message": result.Reason})
			return
		}
	}

	if cancelErr := h.engine.CancelOrder(batchID, orderID, trader); cancelErr != nil {
		writeErr(c, cancelErr)
		return
	}

	c.Status(http.StatusNoContent)
}

// EstimateVolume handles GET /api/v1/batches/:batch_id/volume.
func (h *Handler) EstimateVolume(c *gin.Context) {
	batchID, err := uuid.Parse(c.Param("batch_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "InvalidBatchID"})
		return
	}

	result, estErr := h.engine.EstimateVolume(batchID)
	if estErr != nil {
		writeErr(c, estErr)
		return
	}

	levels := make([]gin.H, 0, len(result.PerPriceLevel))
	for _, l := range result.PerPriceLevel {
		levels = append(levels, gin.H{"price": l.Price.String(), "estimate": l.Estimate.String()})
	}
	c.JSON(http.StatusOK, gin.H{"total": result.Total.String(), "per_price_level": levels})
}

// CloseBatch handles POST /api/v1/batches/:batch_id/close.
func (h *Handler) CloseBatch(c *gin.Context) {
	batchID, err := uuid.Parse(c.Param("batch_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "InvalidBatchID"})
		return
	}

	if closeErr := h.engine.CloseBatch(batchID); closeErr != nil {
		writeErr(c, closeErr)
		return
	}
	if view, getErr := h.engine.GetBatch(batchID); getErr == nil {
		h.publishBatchUpdate(batchID, view.PairID, string(view.Phase), "closed")
	}
	c.Status(http.StatusNoContent)
}

// SettleBatch handles POST /api/v1/batches/:batch_id/settle.
func (h *Handler) SettleBatch(c *gin.Context) {
	batchID, err := uuid.Parse(c.Param("batch_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "InvalidBatchID"})
		return
	}

	result, settleErr := h.engine.SettleBatch(c.Request.Context(), batchID)
	if settleErr != nil {
		writeErr(c, settleErr)
		return
	}

	phase := "Settled"
	eventType := "settled"
	if result.Aborted {
		phase = "Aborted"
		eventType = "aborted"
	}

	pairID := ""
	if view, getErr := h.engine.GetBatch(batchID); getErr == nil {
		pairID = view.PairID
	}

	if h.auditLog != nil {
		if recErr := h.auditLog.Record(c.Request.Context(), batchID.String(), pairID, phase, result); recErr != nil {
			h.logger.WithError(recErr).Warn("api: failed to record settlement audit entry")
		}
	}

	h.publishBatchUpdate(batchID, pairID, phase, eventType)
	if h.hub != nil {
		h.hub.PublishSettlementUpdate(websocket.SettlementUpdate{
			BatchID:            batchID,
			PairID:             pairID,
			ClearingPrice:      result.ClearingPrice.String(),
			TotalMatchedVolume: result.TotalMatchedVolume.String(),
			FillCount:          len(result.Fills),
			Aborted:            result.Aborted,
			Reason:             result.Reason,
			Timestamp:          time.Now(),
		})
	}

	c.JSON(http.StatusOK, settlementResponse(result))
}

func settlementResponse(s settlement.Settlement) gin.H {
	fills := make([]gin.H, 0, len(s.Fills))
	for _, f := range s.Fills {
		fills = append(fills, gin.H{
			"order_id": hex.EncodeToString(f.OrderID[:]),
			"envelope": hex.EncodeToString(f.Envelope),
		})
	}
	return gin.H{
		"clearing_price":       s.ClearingPrice.String(),
		"fills":                fills,
		"proof_blob":           hex.EncodeToString(s.ProofBlob),
		"proof_invalid":        s.ProofInvalid,
		"total_matched_volume": s.TotalMatchedVolume.String(),
		"aborted":              s.Aborted,
		"reason":               s.Reason,
	}
}

// GetBatch handles GET /api/v1/batches/:batch_id.
func (h *Handler) GetBatch(c *gin.Context) {
	batchID, err := uuid.Parse(c.Param("batch_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "InvalidBatchID"})
		return
	}

	view, getErr := h.engine.GetBatch(batchID)
	if getErr != nil {
		writeErr(c, getErr)
		return
	}

	resp := gin.H{
		"batch_id":    view.ID,
		"pair_id":     view.PairID,
		"phase":       view.Phase,
		"deadline":    view.Deadline,
		"order_count": view.OrderCount,
	}
	if view.Settlement != nil {
		resp["settlement"] = settlementResponse(*view.Settlement)
	}
	c.JSON(http.StatusOK, resp)
}

// HealthCheck handles GET /api/v1/health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
}

// CORSMiddleware allows the service tier (UI, explicitly out of core scope
// per §1) to call the API from a browser origin.
func (h *Handler) CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware logs every request through the structured logger rather
// than gin's default writer.
func (h *Handler) LoggerMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		h.logger.WithFields(logrus.Fields{
			"status_code": param.StatusCode,
			"latency":     param.Latency,
			"client_ip":   param.ClientIP,
			"method":      param.Method,
			"path":        param.Path,
		}).Info("api: request handled")
		return ""
	})
}
