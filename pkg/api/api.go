// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api exposes the queue, the submission coordinator and the dashboard over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/gzip"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/qualitylog/pkg/coordinator"
	"github.com/united-manufacturing-hub/qualitylog/pkg/logger"
	"github.com/united-manufacturing-hub/qualitylog/pkg/models"
	"github.com/united-manufacturing-hub/qualitylog/pkg/notice"
	"github.com/united-manufacturing-hub/qualitylog/pkg/queue"
	"github.com/united-manufacturing-hub/qualitylog/pkg/remote"
	"github.com/united-manufacturing-hub/qualitylog/pkg/syncengine"
)

const apiPrefix = "/api/v1"

type Submitter interface {
	Submit(ctx context.Context, rec models.InspectionRecord) coordinator.Result
}

type Syncer interface {
	SyncAll(ctx context.Context) (syncengine.Report, error)
}

// Counter is satisfied by *monitor.Monitor.
type Counter interface {
	Count() int
	Refresh(ctx context.Context) int
}

// Connectivity is satisfied by *connectivity.Override.
type Connectivity interface {
	IsOnline() bool
	Set(online bool)
	Reset()
	Forced() *bool
}

type NoticeFeed interface {
	Drain(max int) ([]notice.Notice, error)
}

type DashboardSource interface {
	DashboardJSON(ctx context.Context) ([]byte, error)
}

// Deps are the collaborators behind the routes. Every field is required.
type Deps struct {
	Coordinator  Submitter
	Sync         Syncer
	Queue        queue.Store
	Monitor      Counter
	Connectivity Connectivity
	Notices      NoticeFeed
	Parts        remote.PartCatalog
	Dashboard    DashboardSource
	Events       *Broker
}

type response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func reply(c *gin.Context, status int, message string, data any) {
	c.JSON(status, response{Code: status, Message: message, Data: data})
}

type handler struct {
	Deps
	log *zap.SugaredLogger
}

// NewRouter builds the gin engine with access logging, panic recovery and gzip.
func NewRouter(d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{apiPrefix + "/events"})))

	h := &handler{Deps: d, log: logger.For(logger.ComponentAPI)}

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "online")
	})

	v1 := router.Group(apiPrefix)
	{
		v1.POST("/logs", h.postLog)
		v1.POST("/sync", h.postSync)
		v1.GET("/queue", h.getQueue)
		v1.DELETE("/queue", h.deleteQueue)
		v1.GET("/connectivity", h.getConnectivity)
		v1.PUT("/connectivity", h.putConnectivity)
		v1.GET("/notices", h.getNotices)
		v1.GET("/parts/:partNo", h.getPart)
		v1.GET("/dashboard", h.getDashboard)
		v1.GET("/events", h.getEvents)
	}

	return router
}

type submitResponse struct {
	Outcome string        `json:"outcome"`
	Notice  notice.Notice `json:"notice"`
	Pending int           `json:"pending"`
}

func (h *handler) postLog(c *gin.Context) {
	var rec models.InspectionRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		reply(c, http.StatusBadRequest, "invalid request body: "+err.Error(), nil)

		return
	}
	rec.PartNo = models.NormalizePartNo(rec.PartNo)
	if err := rec.Validate(); err != nil {
		reply(c, http.StatusUnprocessableEntity, err.Error(), nil)

		return
	}

	res := h.Coordinator.Submit(c.Request.Context(), rec)
	pending := h.Monitor.Refresh(c.Request.Context())
	h.Events.Publish("queue", gin.H{"pending": pending})

	body := submitResponse{Outcome: res.Outcome.String(), Notice: res.Notice, Pending: pending}
	switch {
	case res.Outcome == coordinator.Submitted:
		reply(c, http.StatusCreated, res.Notice.Description, body)
	case res.Outcome == coordinator.SavedOffline:
		reply(c, http.StatusAccepted, res.Notice.Description, body)
	case errors.Is(res.Err, coordinator.ErrOfflineSaveFailed):
		reply(c, http.StatusInsufficientStorage, res.Notice.Description, body)
	case remote.IsValidation(res.Err):
		reply(c, http.StatusUnprocessableEntity, res.Notice.Description, body)
	default:
		h.log.Errorw("Submission failed", "error", res.Err)
		reply(c, http.StatusInternalServerError, res.Notice.Description, body)
	}
}

func (h *handler) postSync(c *gin.Context) {
	report, err := h.Sync.SyncAll(c.Request.Context())
	if errors.Is(err, syncengine.ErrSyncInProgress) {
		reply(c, http.StatusConflict, err.Error(), nil)

		return
	}
	if err != nil {
		reply(c, http.StatusInternalServerError, err.Error(), nil)

		return
	}
	h.Monitor.Refresh(c.Request.Context())
	h.Events.Publish("queue", gin.H{"pending": report.Remaining})

	message := "sync finished"
	if report.StillOffline {
		message = "still offline"
	}
	reply(c, http.StatusOK, message, report)
}

// queueEntry is a queued record without its photo payload.
type queueEntry struct {
	ID                 string    `json:"id"`
	Timestamp          time.Time `json:"timestamp"`
	PartNo             string    `json:"part_no"`
	QuantityAllSorting int       `json:"quantity_all_sorting"`
	QuantityNg         int       `json:"quantity_ng"`
	OperatorName       string    `json:"operator_name"`
	FactoryName        string    `json:"factory_name,omitempty"`
	HasImage           bool      `json:"has_image"`
}

func (h *handler) getQueue(c *gin.Context) {
	records := h.Queue.List(c.Request.Context())
	entries := make([]queueEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, queueEntry{
			ID:                 r.ID,
			Timestamp:          r.Timestamp,
			PartNo:             r.PartNo,
			QuantityAllSorting: r.QuantityAllSorting,
			QuantityNg:         r.QuantityNg,
			OperatorName:       r.OperatorName,
			FactoryName:        r.FactoryName,
			HasImage:           r.HasImage(),
		})
	}
	reply(c, http.StatusOK, "ok", gin.H{"pending": len(entries), "records": entries})
}

func (h *handler) deleteQueue(c *gin.Context) {
	if err := h.Queue.Clear(c.Request.Context()); err != nil {
		h.log.Errorw("Failed to clear queue", "error", err)
		reply(c, http.StatusInternalServerError, err.Error(), nil)

		return
	}
	h.Monitor.Refresh(c.Request.Context())
	h.Events.Publish("queue", gin.H{"pending": 0})
	reply(c, http.StatusOK, "queue cleared", nil)
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

func (h *handler) connectivityStatus() gin.H {
	return gin.H{"online": h.Connectivity.IsOnline(), "forced": h.Connectivity.Forced()}
}

func (h *handler) getConnectivity(c *gin.Context) {
	reply(c, http.StatusOK, "ok", h.connectivityStatus())
}

func (h *handler) putConnectivity(c *gin.Context) {
	var req connectivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reply(c, http.StatusBadRequest, "invalid request body: "+err.Error(), nil)

		return
	}
	if req.Online == nil {
		h.Connectivity.Reset()
	} else {
		h.Connectivity.Set(*req.Online)
	}
	status := h.connectivityStatus()
	h.Events.Publish("connectivity", status)
	reply(c, http.StatusOK, "ok", status)
}

func (h *handler) getNotices(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("max", "0"))
	if err != nil {
		reply(c, http.StatusBadRequest, "max must be a number", nil)

		return
	}
	notices, err := h.Notices.Drain(limit)
	if err != nil {
		h.log.Errorw("Failed to drain notices", "error", err)
		reply(c, http.StatusInternalServerError, err.Error(), nil)

		return
	}
	reply(c, http.StatusOK, "ok", notices)
}

func (h *handler) getPart(c *gin.Context) {
	partNo := models.NormalizePartNo(c.Param("partNo"))

	part, found, err := h.Parts.LookupPart(c.Request.Context(), partNo)
	if err != nil {
		status := http.StatusInternalServerError
		if remote.KindOf(err) == remote.KindConnectivity {
			status = http.StatusServiceUnavailable
		}
		reply(c, status, "Lookup Error", nil)

		return
	}
	if !found {
		reply(c, http.StatusNotFound, "Part Not Found", nil)

		return
	}
	reply(c, http.StatusOK, "Part Found", part)
}

func (h *handler) getDashboard(c *gin.Context) {
	encoded, err := h.Dashboard.DashboardJSON(c.Request.Context())
	if err != nil {
		h.log.Errorw("Failed to build dashboard", "error", err)
		reply(c, http.StatusServiceUnavailable, err.Error(), nil)

		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", envelope(http.StatusOK, "ok", encoded))
}

// envelope wraps an already encoded payload in the response envelope.
func envelope(code int, message string, data []byte) []byte {
	head, _ := json.Marshal(response{Code: code, Message: message})
	out := make([]byte, 0, len(head)+len(data)+8)
	out = append(out, head[:len(head)-1]...)
	out = append(out, `,"data":`...)
	out = append(out, data...)

	return append(out, '}')
}

func (h *handler) getEvents(c *gin.Context) {
	events, cancel := h.Events.Subscribe()
	defer cancel()

	c.SSEvent("queue", gin.H{"pending": h.Monitor.Count()})
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev.Data)

			return true
		}
	})
}

// Serve runs handler on addr in the background.
func Serve(addr string, handler http.Handler) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Errorf("API server stopped: %v", err)
		}
	}()

	return server
}
