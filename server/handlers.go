package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/kgantsov/rq/queue"
	"github.com/kgantsov/rq/storage"
)

type (
	Handler struct {
		broker Broker
	}
)

func (h *Handler) Enqueue(ctx context.Context, input *EnqueueInput) (*EnqueueOutput, error) {
	id, err := h.broker.Enqueue(ctx, input.Name, input.Body.Data)
	if err != nil {
		if errors.Is(err, queue.ErrEmptyData) {
			return nil, huma.Error400BadRequest("Failed to enqueue a task", err)
		}
		return nil, huma.Error500InternalServerError("Failed to enqueue a task", err)
	}

	res := &EnqueueOutput{Status: http.StatusOK}
	res.Body.ID = id
	res.Body.Queue = input.Name

	return res, nil
}

func (h *Handler) GetTask(ctx context.Context, input *GetTaskInput) (*GetTaskOutput, error) {
	data, err := h.broker.TaskData(ctx, input.Name, input.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, huma.Error404NotFound("Task not found", err)
		}
		return nil, huma.Error500InternalServerError("Failed to read a task", err)
	}

	res := &GetTaskOutput{}
	res.Body.ID = input.ID
	res.Body.Queue = input.Name
	res.Body.Data = data

	return res, nil
}

func (h *Handler) Stats(ctx context.Context, input *StatsInput) (*StatsOutput, error) {
	stats, err := h.broker.Stats(ctx, input.Name)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to read queue stats", err)
	}

	res := &StatsOutput{}
	res.Body.Queue = stats.Queue
	res.Body.Waiting = stats.Waiting
	res.Body.Working = stats.Working

	return res, nil
}
