package handlers

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"homeward/marketplace/internal/models"
)

type TransactionArgs struct {
	TransactionID string `json:"transaction_id"`
}

func (h *JsonApiHandler) getTransaction(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs TransactionArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	tx, err := h.transactionService.FindTransactionByID(c.Request.Context(), reqArgs.TransactionID, authInfo.UserID, authInfo.IsAdmin)
	if err != nil {
		return nil, serviceError(err, "Failed to load transaction", "transaction_id", reqArgs.TransactionID)
	}
	return tx, nil
}

func (h *JsonApiHandler) listMyTransactions(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	txs, err := h.transactionService.ListTransactionsForUser(c.Request.Context(), authInfo.UserID)
	if err != nil {
		return nil, serviceError(err, "Failed to list transactions", "user_id", authInfo.UserID)
	}
	return txs, nil
}

func (h *JsonApiHandler) listTransactionServices(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs TransactionArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	svcs, err := h.transactionService.ListServices(c.Request.Context(), reqArgs.TransactionID, authInfo.UserID, authInfo.IsAdmin)
	if err != nil {
		return nil, serviceError(err, "Failed to list transaction services", "transaction_id", reqArgs.TransactionID)
	}
	return svcs, nil
}

type TaskStatusArgs struct {
	ServiceID string            `json:"service_id"`
	TaskID    string            `json:"task_id"`
	Status    models.TaskStatus `json:"status"`
}

func (h *JsonApiHandler) updateTaskStatus(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs TaskStatusArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	svc, err := h.transactionService.UpdateTaskStatus(c.Request.Context(), reqArgs.ServiceID, reqArgs.TaskID, authInfo.UserID, reqArgs.Status)
	if err != nil {
		return nil, serviceError(err, "Failed to update task", "service_id", reqArgs.ServiceID, "task_id", reqArgs.TaskID)
	}
	return svc, nil
}

type TaskDeadlineArgs struct {
	ServiceID string    `json:"service_id"`
	TaskID    string    `json:"task_id"`
	Deadline  time.Time `json:"deadline"`
}

func (h *JsonApiHandler) setTaskDeadline(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs TaskDeadlineArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.Deadline.IsZero() {
		return nil, NewApiError("deadline is required")
	}

	svc, err := h.transactionService.SetTaskDeadline(c.Request.Context(), reqArgs.ServiceID, reqArgs.TaskID, authInfo.UserID, reqArgs.Deadline)
	if err != nil {
		return nil, serviceError(err, "Failed to set task deadline", "service_id", reqArgs.ServiceID, "task_id", reqArgs.TaskID)
	}
	return svc, nil
}

type TransactionStatusArgs struct {
	TransactionID string                   `json:"transaction_id"`
	Status        models.TransactionStatus `json:"status"`
}

func (h *JsonApiHandler) updateTransactionStatus(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs TransactionStatusArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	err := h.transactionService.UpdateTransactionStatus(c.Request.Context(), reqArgs.TransactionID, authInfo.UserID, reqArgs.Status)
	if err != nil {
		return nil, serviceError(err, "Failed to update transaction", "transaction_id", reqArgs.TransactionID)
	}
	return nil, nil
}

// DeadlineScanResult reports whether a scan was queued or how many notifications an inline scan created.
type DeadlineScanResult struct {
	Queued        bool `json:"queued"`
	Notifications int  `json:"notifications"`
}

// scanDeadlines lets a participant trigger the deadline scan of their transaction.
func (h *JsonApiHandler) scanDeadlines(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs TransactionArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	ctx := c.Request.Context()
	if _, err := h.transactionService.FindTransactionByID(ctx, reqArgs.TransactionID, authInfo.UserID, authInfo.IsAdmin); err != nil {
		return nil, serviceError(err, "Failed to load transaction", "transaction_id", reqArgs.TransactionID)
	}

	if h.deadlineQueue != nil {
		if err := h.deadlineQueue.EnqueueDeadlineScan(ctx, reqArgs.TransactionID); err != nil {
			return nil, serviceError(err, "Failed to queue deadline scan", "transaction_id", reqArgs.TransactionID)
		}
		return DeadlineScanResult{Queued: true}, nil
	}

	created, err := h.deadlineScanner.ScanTransaction(ctx, reqArgs.TransactionID)
	if err != nil {
		return nil, serviceError(err, "Deadline scan failed", "transaction_id", reqArgs.TransactionID)
	}
	return DeadlineScanResult{Notifications: created}, nil
}
