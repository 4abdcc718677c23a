package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/Skryldev/webpbridge"
	"github.com/Skryldev/webpbridge/core"
)

// Images serves the image endpoints.  Storage may be nil, in which case the
// storage routes answer 503.
type Images struct {
	Proc    *webpbridge.Processor
	Storage core.StorageAdapter
}

func NewApi(router *gin.Engine, images *Images) {
	router.GET("/healthz", images.Health)

	imagesV1 := router.Group("images/v1")
	{
		imagesV1.POST("/info", images.Info)
		imagesV1.POST("/convert", images.Convert)
		imagesV1.POST("/store", images.Store)
		imagesV1.GET("/store/:name", images.Fetch)
	}
}
