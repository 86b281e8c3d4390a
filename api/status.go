package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/sweater-ventures/spigot/app"
	"github.com/sweater-ventures/spigot/db"
)

func init() {
	registerRoute(func(spigot *app.Application, router *http.ServeMux) {
		router.Handle("GET /v1/ingest/delivery/{task_id}", routeHandler(spigot, getDeliveryStatusHandler))
	})
}

type DeliveryLogResponse struct {
	ID            string    `json:"id"`
	AttemptNumber int32     `json:"attempt_number"`
	TargetURL     string    `json:"target_url"`
	Status        string    `json:"status"`
	StatusCode    *int32    `json:"status_code"`
	ErrorDetails  *string   `json:"error_details"`
	CreatedAt     time.Time `json:"created_at"`
}

type DeliveryTaskWithLogsResponse struct {
	DeliveryTaskResponse
	Logs []DeliveryLogResponse `json:"logs"`
}

func getDeliveryStatusHandler(spigot *app.Application, w http.ResponseWriter, r *http.Request) {
	idStr := r.PathValue("task_id")
	parsed, err := uuid.Parse(idStr)
	if err != nil {
		writeJsonResponse(w, http.StatusBadRequest, map[string]string{"error": "task_id must be a valid UUID"})
		return
	}
	taskID := pgtype.UUID{Bytes: parsed, Valid: true}

	task, err := spigot.DB.GetDeliveryTask(r.Context(), taskID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeJsonResponse(w, http.StatusNotFound, map[string]string{"error": "Delivery task not found"})
		return
	}
	if err != nil {
		log(r.Context()).Error("Failed to get delivery task", "error", err)
		writeJsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve delivery task"})
		return
	}

	logs, err := spigot.DB.ListDeliveryLogsForTask(r.Context(), taskID)
	if err != nil {
		log(r.Context()).Error("Failed to list delivery logs", "error", err)
		writeJsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve delivery logs"})
		return
	}

	resp := DeliveryTaskWithLogsResponse{
		DeliveryTaskResponse: taskToResponse(task),
		Logs:                 make([]DeliveryLogResponse, 0, len(logs)),
	}
	for _, l := range logs {
		resp.Logs = append(resp.Logs, logToResponse(l))
	}
	writeJsonResponse(w, http.StatusOK, resp)
}

func logToResponse(l db.DeliveryLog) DeliveryLogResponse {
	resp := DeliveryLogResponse{
		ID:            app.UuidToString(l.ID),
		AttemptNumber: l.AttemptNumber,
		TargetURL:     l.TargetUrl,
		Status:        string(l.Status),
		CreatedAt:     l.CreatedAt.Time,
	}
	if l.StatusCode.Valid {
		v := l.StatusCode.Int32
		resp.StatusCode = &v
	}
	if l.ErrorDetails.Valid {
		s := l.ErrorDetails.String
		resp.ErrorDetails = &s
	}
	return resp
}
