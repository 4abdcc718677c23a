package rest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Skryldev/webpbridge"
	"github.com/Skryldev/webpbridge/core"
	apperrors "github.com/Skryldev/webpbridge/errors"
	"github.com/Skryldev/webpbridge/utils"
)

const bucket = "images"

type convertQuery struct {
	To      string `form:"to"      binding:"omitempty,oneof=webp png jpeg jpg"`
	Quality int    `form:"quality" binding:"gte=0,lte=100"`
	Width   int    `form:"width"   binding:"gte=0,lte=16383"`
	Height  int    `form:"height"  binding:"gte=0,lte=16383"`
	Gray    bool   `form:"gray"`
}

type storeQuery struct {
	Name    string `form:"name"    binding:"omitempty,max=200"`
	Quality int    `form:"quality" binding:"gte=0,lte=100"`
	Width   int    `form:"width"   binding:"gte=0,lte=16383"`
	Height  int    `form:"height"  binding:"gte=0,lte=16383"`
}

type infoResponse struct {
	Width     int   `json:"width"`
	Height    int   `json:"height"`
	HasAlpha  bool  `json:"hasAlpha"`
	SizeBytes int64 `json:"sizeBytes"`
}

type storeResponse struct {
	Name      string `json:"name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	SizeBytes int64  `json:"sizeBytes"`
}

func (i *Images) Health(c *gin.Context) {
	processed, failed := i.Proc.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"codec":     i.Proc.Codec().Name(),
		"codecs":    i.Proc.Registry().Codecs(),
		"processed": processed,
		"errors":    failed,
		"storage":   i.Storage != nil,
	})
}

// Info probes a WebP body without decoding it.
func (i *Images) Info(c *gin.Context) {
	data, err := i.readBody(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	info, err := i.Proc.Probe(data)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, infoResponse{
		Width:     info.Width,
		Height:    info.Height,
		HasAlpha:  info.HasAlpha,
		SizeBytes: int64(len(data)),
	})
}

// Convert re-encodes the body (WebP, PNG or JPEG) into ?to= (default webp).
func (i *Images) Convert(c *gin.Context) {
	var q convertQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		abortWithError(c, apperrors.Fail(apperrors.CategoryInput, "rest.convert", apperrors.ErrInvalidArguments, err))
		return
	}
	target := core.FormatWebP
	if q.To != "" {
		target = core.ParseFormat(q.To)
	}

	steps := resizeSteps(q.Width, q.Height)
	if q.Gray {
		steps = append(steps, webpbridge.Grayscale())
	}
	steps = append(steps, webpbridge.ConvertFormat(target))
	if q.Quality > 0 {
		steps = append(steps, webpbridge.Quality(q.Quality))
	}
	steps = append(steps, i.Proc.Encode())

	res, err := i.Proc.Process(c.Request.Context(), i.source(c, ""), steps...)
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := res.Primary
	c.Header("X-Image-Width", strconv.Itoa(out.Meta.Width))
	c.Header("X-Image-Height", strconv.Itoa(out.Meta.Height))
	c.Data(http.StatusOK, out.OutputFormat.ContentType(), out.Output)
}

// Store converts the body to WebP and persists it under ?name= (a random
// name when omitted).
func (i *Images) Store(c *gin.Context) {
	if i.Storage == nil {
		abortWithError(c, apperrors.New(apperrors.CategoryStorage, "rest.store", apperrors.ErrStorageUnavailable))
		return
	}
	var q storeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		abortWithError(c, apperrors.Fail(apperrors.CategoryInput, "rest.store", apperrors.ErrInvalidArguments, err))
		return
	}
	name := path.Base(path.Clean("/" + q.Name))
	if q.Name == "" || name == "/" {
		name = uuid.NewString()
	}
	if path.Ext(name) != core.FormatWebP.Extension() {
		name += core.FormatWebP.Extension()
	}

	steps := append(resizeSteps(q.Width, q.Height), webpbridge.ConvertFormat(core.FormatWebP))
	if q.Quality > 0 {
		steps = append(steps, webpbridge.Quality(q.Quality))
	}
	steps = append(steps, i.Proc.Encode())

	res, err := i.Proc.Process(c.Request.Context(), i.source(c, name), steps...)
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := res.Primary
	meta := map[string]string{
		"content-type":  core.FormatWebP.ContentType(),
		"width":         strconv.Itoa(out.Meta.Width),
		"height":        strconv.Itoa(out.Meta.Height),
		"quality":       strconv.Itoa(out.Quality),
		"source-format": string(out.Meta.Format),
	}
	key := core.StorageKey{Bucket: bucket, Path: name}
	if err := i.Storage.Put(c.Request.Context(), key, bytes.NewReader(out.Output), meta); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, storeResponse{
		Name:      name,
		Width:     out.Meta.Width,
		Height:    out.Meta.Height,
		SizeBytes: int64(len(out.Output)),
	})
}

// Fetch streams a stored image back.
func (i *Images) Fetch(c *gin.Context) {
	if i.Storage == nil {
		abortWithError(c, apperrors.New(apperrors.CategoryStorage, "rest.fetch", apperrors.ErrStorageUnavailable))
		return
	}
	rc, err := i.Storage.Get(c.Request.Context(), core.StorageKey{Bucket: bucket, Path: c.Param("name")})
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, -1, core.FormatWebP.ContentType(), rc, nil)
}

func (i *Images) source(c *gin.Context, name string) core.Source {
	return core.Source{
		Reader:      c.Request.Body,
		ContentType: c.ContentType(),
		Name:        name,
		Size:        c.Request.ContentLength,
	}
}

func (i *Images) readBody(c *gin.Context) ([]byte, error) {
	var r io.Reader = c.Request.Body
	if limit := i.Proc.Inner().Config().MaxImageBytes; limit > 0 {
		r = &utils.LimitedReader{R: r, Max: limit}
	}
	buf, err := utils.DrainReader(c.Request.Context(), r, 0)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "rest.read", err)
	}
	defer utils.ReleaseBuffer(buf)
	return utils.CloneBytes(buf.Bytes()), nil
}

func resizeSteps(width, height int) []core.Step {
	if width == 0 && height == 0 {
		return nil
	}
	return []core.Step{webpbridge.Resize(width, height)}
}

func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusFor(err), gin.H{
		"error":    err.Error(),
		"category": string(apperrors.CategoryOf(err)),
	})
}

// statusFor maps processing failures to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, utils.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, apperrors.ErrWorkerPoolFull), errors.Is(err, apperrors.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, apperrors.ErrUnsupportedFormat), errors.Is(err, apperrors.ErrInvalidSignature):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, apperrors.ErrInvalidDimensions):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrProbeFailed), errors.Is(err, apperrors.ErrDecodeFailed):
		return http.StatusUnprocessableEntity
	}
	switch apperrors.CategoryOf(err) {
	case apperrors.CategoryInput, apperrors.CategoryFormat, apperrors.CategoryConfig:
		return http.StatusBadRequest
	case apperrors.CategoryDecode:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
