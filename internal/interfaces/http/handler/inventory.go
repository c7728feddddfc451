package handler

import (
	"context"
	"net/http"

	appinv "github.com/erp/inventory-core/internal/application/inventory"
	"github.com/erp/inventory-core/internal/domain/inventory"
	"github.com/erp/inventory-core/internal/domain/shared"
	"github.com/erp/inventory-core/internal/interfaces/http/dto"
	"github.com/erp/inventory-core/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// InventoryQueries are the read models served next to the engine commands.
type InventoryQueries interface {
	ListReservations(ctx context.Context, ref inventory.Ref) ([]inventory.Reservation, error)
	ReservationStats(ctx context.Context) (*appinv.ReservationStats, error)
	TotalOnHand(ctx context.Context, itemID string) (*appinv.ItemTotals, error)
	FulfillmentStatus(ctx context.Context, ref inventory.Ref, ordered decimal.Decimal) (*appinv.FulfillmentStatusView, error)
	JournalForCell(ctx context.Context, cell inventory.Cell, limit int) ([]inventory.InventoryTransaction, error)
	JournalForRef(ctx context.Context, ref inventory.Ref) ([]inventory.InventoryTransaction, error)
}

// BatchExecutor runs independent commands concurrently.
type BatchExecutor interface {
	ExecuteBatch(ctx context.Context, cmds []appinv.Command) []appinv.Outcome
}

// InventoryHandler handles inventory-related API endpoints
type InventoryHandler struct {
	BaseHandler
	executor   appinv.Executor
	queries    InventoryQueries
	dispatcher BatchExecutor
}

// NewInventoryHandler creates a new InventoryHandler. The engine usually
// serves as both executor and queries.
func NewInventoryHandler(executor appinv.Executor, queries InventoryQueries, dispatcher BatchExecutor) *InventoryHandler {
	return &InventoryHandler{
		executor:   executor,
		queries:    queries,
		dispatcher: dispatcher,
	}
}

// RegisterRoutes registers all inventory routes on rg
func (h *InventoryHandler) RegisterRoutes(rg *gin.RouterGroup) {
	inv := rg.Group("/inventory")

	inv.POST("/reserve", h.Reserve)
	inv.POST("/release", h.Release)
	inv.POST("/consume", h.Consume)
	inv.POST("/receive", h.Receive)
	inv.POST("/adjust", h.Adjust)
	inv.POST("/transfer", h.Transfer)
	inv.POST("/fulfill", h.Fulfill)
	inv.POST("/return", h.Return)
	inv.POST("/issue", h.Issue)
	inv.POST("/batch", h.Batch)

	inv.GET("/balances/:item_id/:location_id", h.GetBalance)
	inv.POST("/availability", h.CheckAvailability)
	inv.GET("/items/:item_id/totals", h.TotalOnHand)

	inv.GET("/reservations", h.ListReservations)
	inv.GET("/reservations/stats", h.ReservationStats)
	inv.GET("/fulfillment-status", h.FulfillmentStatus)
	inv.GET("/journal", h.Journal)
}

// runCommand binds the body into T, converts it and executes the command.
func runCommand[T any](h *InventoryHandler, c *gin.Context, status int, convert func(T, string) (appinv.Command, error)) {
	var req T
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	cmd, err := convert(req, actor(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	result, err := h.executor.Execute(c.Request.Context(), cmd)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(status, dto.NewSuccessResponse(result))
}

func infallible[T any, C appinv.Command](fn func(T, string) C) func(T, string) (appinv.Command, error) {
	return func(req T, actor string) (appinv.Command, error) {
		return fn(req, actor), nil
	}
}

func fallible[T any, C appinv.Command](fn func(T, string) (C, error)) func(T, string) (appinv.Command, error) {
	return func(req T, actor string) (appinv.Command, error) {
		cmd, err := fn(req, actor)
		if err != nil {
			return nil, err
		}
		return cmd, nil
	}
}

// Reserve godoc
// @ID           reserveInventory
// @Summary      Reserve stock
// @Description  Places reservations for a cause. Strict mode is all-or-nothing; BestEffort reserves what is available and reports shortfalls
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Param        X-Actor header string false "Acting principal"
// @Param        request body dto.ReserveRequest true "Reservation request"
// @Success      201 {object} APIResponse[appinv.ReserveResult]
// @Failure      400 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /inventory/reserve [post]
func (h *InventoryHandler) Reserve(c *gin.Context) {
	runCommand(h, c, http.StatusCreated, fallible(dto.ReserveRequest.ToCommand))
}

// Release godoc
// @ID           releaseInventory
// @Summary      Release reservations
// @Description  Releases one reservation by ID, or every active reservation of the cause
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Param        request body dto.ReleaseRequest true "Release request"
// @Success      200 {object} APIResponse[appinv.ReleaseResult]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Router       /inventory/release [post]
func (h *InventoryHandler) Release(c *gin.Context) {
	runCommand(h, c, http.StatusOK, fallible(dto.ReleaseRequest.ToCommand))
}

// Consume godoc
// @ID           consumeInventory
// @Summary      Consume reserved stock
// @Description  Ships reserved stock and releases any remainder of the consumed reservations
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Param        request body dto.ConsumeRequest true "Consume request"
// @Success      200 {object} APIResponse[appinv.ConsumeResult]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Router       /inventory/consume [post]
func (h *InventoryHandler) Consume(c *gin.Context) {
	runCommand(h, c, http.StatusOK, fallible(dto.ConsumeRequest.ToCommand))
}

// Receive godoc
// @ID           receiveInventory
// @Summary      Receive stock
// @Description  Adds stock from a purchase receipt or a production order
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Param        request body dto.ReceiveRequest true "Receive request"
// @Success      200 {object} APIResponse[appinv.OnHandResult]
// @Failure      400 {object} ErrorResponse
// @Router       /inventory/receive [post]
func (h *InventoryHandler) Receive(c *gin.Context) {
	runCommand(h, c, http.StatusOK, fallible(dto.ReceiveRequest.ToCommand))
}

// Adjust godoc
// @ID           adjustInventory
// @Summary      Adjust on-hand
// @Description  Applies a signed correction. A decrease may not drop on-hand below allocated
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Param        request body dto.AdjustRequest true "Adjust request"
// @Success      200 {object} APIResponse[appinv.OnHandResult]
// @Failure      400 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Router       /inventory/adjust [post]
func (h *InventoryHandler) Adjust(c *gin.Context) {
	runCommand(h, c, http.StatusOK, infallible(dto.AdjustRequest.ToCommand))
}

// Transfer godoc
// @ID           transferInventory
// @Summary      Transfer stock
// @Description  Moves available stock of one item between two locations atomically
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Param        request body dto.TransferRequest true "Transfer request"
// @Success      200 {object} APIResponse[appinv.TransferResult]
// @Failure      400 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Router       /inventory/transfer [post]
func (h *InventoryHandler) Transfer(c *gin.Context) {
	runCommand(h, c, http.StatusOK, infallible(dto.TransferRequest.ToCommand))
}

// Fulfill godoc
// @ID           fulfillInventory
// @Summary      Fulfill an order line
// @Description  Ships an order line from its reservations, or directly from available stock when it has none
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Param        request body dto.FulfillRequest true "Fulfill request"
// @Success      200 {object} APIResponse[appinv.FulfillResult]
// @Failure      400 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Router       /inventory/fulfill [post]
func (h *InventoryHandler) Fulfill(c *gin.Context) {
	runCommand(h, c, http.StatusOK, infallible(dto.FulfillRequest.ToCommand))
}

// Return godoc
// @ID           returnInventory
// @Summary      Return stock
// @Description  Puts customer-returned stock back on hand
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Param        request body dto.ReturnRequest true "Return request"
// @Success      200 {object} APIResponse[appinv.OnHandResult]
// @Failure      400 {object} ErrorResponse
// @Router       /inventory/return [post]
func (h *InventoryHandler) Return(c *gin.Context) {
	runCommand(h, c, http.StatusOK, infallible(dto.ReturnRequest.ToCommand))
}

// Issue godoc
// @ID           issueInventory
// @Summary      Issue unreserved stock
// @Description  Removes available stock directly without a reservation
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Param        request body dto.IssueRequest true "Issue request"
// @Success      200 {object} APIResponse[appinv.IssueResult]
// @Failure      400 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Router       /inventory/issue [post]
func (h *InventoryHandler) Issue(c *gin.Context) {
	runCommand(h, c, http.StatusOK, fallible(dto.IssueRequest.ToCommand))
}

// Batch godoc
// @ID           batchInventory
// @Summary      Run a batch of commands
// @Description  Runs independent commands concurrently. Each command succeeds or fails on its own; outcomes keep request order
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Param        request body dto.BatchRequest true "Batch request"
// @Success      200 {object} APIResponse[BatchResponse]
// @Failure      400 {object} ErrorResponse
// @Router       /inventory/batch [post]
func (h *InventoryHandler) Batch(c *gin.Context) {
	var req dto.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	resp := BatchResponse{Outcomes: make([]dto.BatchOutcome, len(req.Commands))}
	cmds := make([]appinv.Command, 0, len(req.Commands))
	index := make([]int, 0, len(req.Commands))
	for i, r := range req.Commands {
		cmd, err := r.ToCommand(actor(c))
		if err != nil {
			resp.Outcomes[i] = dto.BatchOutcome{Error: errorInfo(c, err)}
			continue
		}
		resp.Outcomes[i].Operation = cmd.Operation()
		cmds = append(cmds, cmd)
		index = append(index, i)
	}

	for j, out := range h.dispatcher.ExecuteBatch(c.Request.Context(), cmds) {
		i := index[j]
		if out.Err != nil {
			resp.Outcomes[i].Error = errorInfo(c, out.Err)
			continue
		}
		resp.Outcomes[i].Result = out.Result
	}
	for _, o := range resp.Outcomes {
		if o.Error != nil {
			resp.Failed++
		} else {
			resp.Succeeded++
		}
	}
	h.Success(c, resp)
}

// GetBalance godoc
// @ID           getInventoryBalance
// @Summary      Get a balance
// @Description  Reads one item-location cell without locking. Overdue reservations are excluded from allocated
// @Tags         inventory
// @Produce      json
// @Param        item_id path string true "Item ID"
// @Param        location_id path string true "Location ID"
// @Success      200 {object} APIResponse[appinv.BalanceView]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /inventory/balances/{item_id}/{location_id} [get]
func (h *InventoryHandler) GetBalance(c *gin.Context) {
	result, err := h.executor.Execute(c.Request.Context(), appinv.GetBalanceQuery{
		ItemID:     c.Param("item_id"),
		LocationID: c.Param("location_id"),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	balance, _ := result.(*appinv.GetBalanceResult)
	if balance == nil || balance.Balance == nil {
		h.HandleError(c, &inventory.BalanceNotFoundError{
			ItemID:     c.Param("item_id"),
			LocationID: c.Param("location_id"),
		})
		return
	}
	h.Success(c, balance.Balance)
}

// CheckAvailability godoc
// @ID           checkInventoryAvailability
// @Summary      Check availability
// @Description  Advisory per-line check of available stock. Nothing is reserved
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Param        request body dto.CheckAvailabilityRequest true "Availability lines"
// @Success      200 {object} APIResponse[appinv.CheckAvailabilityResult]
// @Failure      400 {object} ErrorResponse
// @Router       /inventory/availability [post]
func (h *InventoryHandler) CheckAvailability(c *gin.Context) {
	var req dto.CheckAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	result, err := h.executor.Execute(c.Request.Context(), req.ToQuery())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// TotalOnHand godoc
// @ID           getInventoryItemTotals
// @Summary      Item totals across locations
// @Tags         inventory
// @Produce      json
// @Param        item_id path string true "Item ID"
// @Success      200 {object} APIResponse[appinv.ItemTotals]
// @Failure      400 {object} ErrorResponse
// @Router       /inventory/items/{item_id}/totals [get]
func (h *InventoryHandler) TotalOnHand(c *gin.Context) {
	totals, err := h.queries.TotalOnHand(c.Request.Context(), c.Param("item_id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, totals)
}

// ListReservations godoc
// @ID           listInventoryReservations
// @Summary      List reservations of a cause
// @Tags         inventory
// @Produce      json
// @Param        ref_type query string true "Cause type" example(SalesOrder)
// @Param        ref_id query string true "Cause ID"
// @Success      200 {object} APIResponse[[]dto.ReservationResponse]
// @Failure      400 {object} ErrorResponse
// @Router       /inventory/reservations [get]
func (h *InventoryHandler) ListReservations(c *gin.Context) {
	var q dto.ReservationListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	rs, err := h.queries.ListReservations(c.Request.Context(), inventory.NewRef(q.RefType, q.RefID))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToReservationResponses(rs))
}

// ReservationStats godoc
// @ID           getInventoryReservationStats
// @Summary      Reservation statistics
// @Tags         inventory
// @Produce      json
// @Success      200 {object} APIResponse[ReservationStatsResponse]
// @Router       /inventory/reservations/stats [get]
func (h *InventoryHandler) ReservationStats(c *gin.Context) {
	stats, err := h.queries.ReservationStats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stats)
}

// FulfillmentStatus godoc
// @ID           getInventoryFulfillmentStatus
// @Summary      Shipping state of an order line
// @Tags         inventory
// @Produce      json
// @Param        ref_type query string true "Cause type"
// @Param        ref_id query string true "Cause ID"
// @Param        ordered_quantity query string false "Ordered quantity; defaults to the reserved request"
// @Success      200 {object} APIResponse[appinv.FulfillmentStatusView]
// @Failure      400 {object} ErrorResponse
// @Router       /inventory/fulfillment-status [get]
func (h *InventoryHandler) FulfillmentStatus(c *gin.Context) {
	var q dto.FulfillmentStatusQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	ordered, err := q.Ordered()
	if err != nil {
		h.HandleError(c, err)
		return
	}
	view, err := h.queries.FulfillmentStatus(c.Request.Context(), inventory.NewRef(q.RefType, q.RefID), ordered)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, view)
}

// Journal godoc
// @ID           listInventoryJournal
// @Summary      Journal entries of a cell or a cause
// @Tags         inventory
// @Produce      json
// @Param        item_id query string false "Item ID"
// @Param        location_id query string false "Location ID"
// @Param        ref_type query string false "Cause type"
// @Param        ref_id query string false "Cause ID"
// @Param        limit query int false "Latest entries of the cell" minimum(1) maximum(1000)
// @Success      200 {object} APIResponse[[]dto.JournalEntryResponse]
// @Failure      400 {object} ErrorResponse
// @Router       /inventory/journal [get]
func (h *InventoryHandler) Journal(c *gin.Context) {
	var q dto.JournalQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	var (
		entries []inventory.InventoryTransaction
		err     error
	)
	switch {
	case q.ItemID != "":
		var cell inventory.Cell
		cell, err = inventory.NewCell(q.ItemID, q.LocationID)
		if err == nil {
			entries, err = h.queries.JournalForCell(c.Request.Context(), cell, q.Limit)
		}
	case q.RefType != "":
		entries, err = h.queries.JournalForRef(c.Request.Context(), inventory.NewRef(q.RefType, q.RefID))
	default:
		err = shared.NewDomainError(shared.CodeInvalidInput, "either item_id and location_id or ref_type and ref_id is required")
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToJournalEntryResponses(entries))
}
