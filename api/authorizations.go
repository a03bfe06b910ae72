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

// CreateAuthorization handles the decisioning of a new authorization request.
// It binds the incoming JSON request, validates it, and runs the decision
// pipeline. The decision itself is returned with 201 whether approved or
// declined; HTTP errors are reserved for requests that could not be decided.
//
// Parameters:
// - c: The Gin context containing the request and response.
//
// Responses:
// - 400 Bad Request: If there's an error in binding JSON or validating the request.
// - 201 Created: If a decision was recorded.
func (a Api) CreateAuthorization(c *gin.Context) {
	var newAuthorization model2.CreateAuthorization
	if err := c.ShouldBindJSON(&newAuthorization); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	err := newAuthorization.ValidateCreateAuthorization()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	decision, err := a.railcore.Authorize(c.Request.Context(), newAuthorization.ToAuthorizationRequest())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, decision)
}
