package server

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"time"

	"github.com/kataras/iris/v12"

	"camdvr/internal/logging"
	"camdvr/internal/models"
	"camdvr/internal/store"
)

const queryLimit = 1000

// Handlers is the HTTP API surface. Routes mirror the upload/query API
// the CLI client talks to.
type Handlers struct {
	core *Core
}

func NewHandlers(core *Core) *Handlers {
	return &Handlers{core: core}
}

// RegisterRoutes attaches the API and the viewer websocket.
func RegisterRoutes(app *iris.Application, h *Handlers) {
	api := app.Party("/api")
	api.Post("/frames", h.PostFrame)
	api.Get("/frames", h.GetFrames)
	api.Get("/frame-file", h.GetFrameFile)
	api.Get("/config", h.GetConfig)

	app.Get("/ws", h.HandleViewerSocket)
}

// PostFrame ingests one frame over HTTP: same broadcast + storage path
// as the TCP listener.
// POST /api/frames
func (h *Handlers) PostFrame(ctx iris.Context) {
	var req struct {
		CamNo       string `json:"camNo"`
		Timestamp   int64  `json:"timestamp"`
		Filename    string `json:"filename"`
		ImageBase64 string `json:"imageBase64"`
	}
	if err := ctx.ReadJSON(&req); err != nil {
		ctx.StatusCode(iris.StatusBadRequest)
		ctx.JSON(iris.Map{"error": "invalid JSON"})
		return
	}
	if req.CamNo == "" || req.ImageBase64 == "" {
		ctx.StatusCode(iris.StatusBadRequest)
		ctx.JSON(iris.Map{"error": "camNo and imageBase64 required"})
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		ctx.StatusCode(iris.StatusBadRequest)
		ctx.JSON(iris.Map{"error": "invalid base64 image"})
		return
	}
	if req.Timestamp <= 0 {
		req.Timestamp = time.Now().UnixMilli()
	}

	h.core.HandleFrame(models.Frame{
		CamNo:     req.CamNo,
		Timestamp: req.Timestamp,
		FileHint:  req.Filename,
		Payload:   payload,
	})
	logging.Debugf("[api] frame uploaded: cam=%s bytes=%d", req.CamNo, len(payload))
	ctx.JSON(iris.Map{"status": "ok", "size": len(payload)})
}

// GetFrames queries the index by camera and optional decomposed time
// fields, key-ordered.
// GET /api/frames?camNo=CAM0[&year=2026&month=8&day=25&hour=14&minute=30&second=15]
func (h *Handlers) GetFrames(ctx iris.Context) {
	camNo := ctx.URLParam("camNo")
	if camNo == "" {
		ctx.StatusCode(iris.StatusBadRequest)
		ctx.JSON(iris.Map{"error": "camNo required"})
		return
	}

	filter := store.EmptyFilter()
	filter.Year = ctx.URLParamIntDefault("year", 0)
	filter.Month = ctx.URLParamIntDefault("month", 0)
	filter.Day = ctx.URLParamIntDefault("day", 0)
	filter.Hour = ctx.URLParamIntDefault("hour", -1)
	filter.Minute = ctx.URLParamIntDefault("minute", -1)
	filter.Second = ctx.URLParamIntDefault("second", -1)

	rows, err := h.core.Index.Query(ctx.Request().Context(), camNo, filter, queryLimit)
	if err != nil {
		logging.Errorf("[api] frame query failed: %v", err)
		ctx.StatusCode(iris.StatusInternalServerError)
		ctx.JSON(iris.Map{"error": "query failed"})
		return
	}

	frames := make([]iris.Map, 0, len(rows))
	for _, r := range rows {
		frames = append(frames, iris.Map{
			"camNo":      r.CamNo,
			"t_year":     r.Key.Year,
			"t_mon":      r.Key.Month,
			"t_mday":     r.Key.Day,
			"t_hour":     r.Key.Hour,
			"t_min":      r.Key.Minute,
			"t_sec":      r.Key.Second,
			"t_mill":     r.Key.Milli,
			"i_location": r.Location,
		})
	}
	ctx.JSON(iris.Map{"frames": frames, "count": len(frames)})
}

// GetFrameFile serves a stored frame by bare filename.
// GET /api/frame-file?filename=250825143015_042.bmp
func (h *Handlers) GetFrameFile(ctx iris.Context) {
	filename := ctx.URLParam("filename")
	if filename == "" {
		ctx.StatusCode(iris.StatusBadRequest)
		ctx.JSON(iris.Map{"error": "filename required"})
		return
	}
	location, err := h.core.Blobs.FindByName(filename)
	if err != nil {
		if os.IsNotExist(err) {
			ctx.StatusCode(iris.StatusNotFound)
			ctx.JSON(iris.Map{"error": "file not found"})
			return
		}
		ctx.StatusCode(iris.StatusBadRequest)
		ctx.JSON(iris.Map{"error": err.Error()})
		return
	}
	ctx.SendFile(filepath.Join(h.core.Blobs.BaseDir(), filepath.FromSlash(location)), filename)
}

// GetConfig reports the runtime status snapshot.
// GET /api/config
func (h *Handlers) GetConfig(ctx iris.Context) {
	ctx.JSON(h.core.Status())
}
