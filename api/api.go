/*
Copyright 2024 Railcore Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/railcorehq/railcore"
	"github.com/railcorehq/railcore/api/middleware"
	"github.com/railcorehq/railcore/config"
)

type Api struct {
	railcore *railcore.Railcore
	router   *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/authorizations", a.CreateAuthorization)

	router.POST("/instruments", a.CreateInstrument)
	router.GET("/instruments/:id", a.GetInstrument)
	router.POST("/instruments/:id/freeze", a.FreezeInstrument)
	router.POST("/instruments/:id/unfreeze", a.UnfreezeInstrument)
	router.POST("/instruments/:id/close", a.CloseInstrument)

	router.POST("/settlements", a.CreateSettlement)
	router.GET("/settlements/metrics", a.GetSettlementMetrics)
	router.GET("/settlements/:reference", a.GetSettlement)

	router.GET("/rails/health", a.GetRailHealth)

	router.POST("/reconciliations", a.StartReconciliation)
	router.GET("/reconciliations/:id", a.GetReconciliationReport)

	return a.router
}

func NewAPI(r *railcore.Railcore) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	router := gin.Default()
	router.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		router.Use(middleware.SecretKeyAuthMiddleware())
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{railcore: r, router: router}
}
