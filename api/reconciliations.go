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

	"github.com/gin-gonic/gin"

	model2 "github.com/railcorehq/railcore/api/model"
	"github.com/railcorehq/railcore/internal/apierror"
)

// StartReconciliation queues a reconciliation run over a date range and
// returns the report in its queued state. Callers poll the report by ID.
//
// Responses:
// - 400 Bad Request: If there's an error in binding JSON or validating the range.
// - 202 Accepted: If the run was queued.
func (a Api) StartReconciliation(c *gin.Context) {
	var newReconciliation model2.CreateReconciliation
	if err := c.ShouldBindJSON(&newReconciliation); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	err := newReconciliation.ValidateCreateReconciliation()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	report, err := a.railcore.StartReconciliation(c.Request.Context(), newReconciliation.RangeStart, newReconciliation.RangeEnd)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, report)
}

// GetReconciliationReport retrieves a reconciliation report and its
// per-attempt records.
func (a Api) GetReconciliationReport(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /reconciliations/:id"})
		return
	}

	report, records, err := a.railcore.GetReconciliationReport(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report, "records": records})
}
