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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	model2 "github.com/railcorehq/railcore/api/model"
	"github.com/railcorehq/railcore/internal/apierror"
)

// CreateSettlement accepts a new settlement request and queues it for
// processing. The settlement comes back immediately in its INITIATED state;
// processing is asynchronous and observable via GET /settlements/:reference.
//
// Responses:
// - 400 Bad Request: If there's an error in binding JSON or validating the settlement.
// - 201 Created: If the settlement was accepted.
func (a Api) CreateSettlement(c *gin.Context) {
	var newSettlement model2.CreateSettlement
	if err := c.ShouldBindJSON(&newSettlement); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	err := newSettlement.ValidateCreateSettlement()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	settlement, err := a.railcore.CreateSettlement(c.Request.Context(), newSettlement.ToSettlementRequest())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, settlement)
}

// GetSettlement retrieves a settlement by its reference.
func (a Api) GetSettlement(c *gin.Context) {
	reference, passed := c.Params.Get("reference")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reference is required. pass reference in the route /settlements/:reference"})
		return
	}

	settlement, err := a.railcore.GetSettlement(c.Request.Context(), reference)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, settlement)
}

// GetSettlementMetrics aggregates attempt outcomes per rail over a date
// range given by the from/to query parameters, defaulting to the last 24
// hours.
func (a Api) GetSettlementMetrics(c *gin.Context) {
	end := time.Now()
	start := end.Add(-24 * time.Hour)

	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "please format 'from' as RFC3339 (e.g., 2024-04-22T15:28:03+00:00)"})
			return
		}
		start = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "please format 'to' as RFC3339 (e.g., 2024-04-22T15:28:03+00:00)"})
			return
		}
		end = parsed
	}

	metrics, err := a.railcore.GetSettlementMetrics(c.Request.Context(), start, end)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"from": start, "to": end, "rails": metrics})
}

// GetRailHealth snapshots every configured rail's breaker state.
func (a Api) GetRailHealth(c *gin.Context) {
	states, err := a.railcore.RailHealth(c.Request.Context())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"rails": states})
}
