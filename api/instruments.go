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
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/railcorehq/railcore/api/model"
	"github.com/railcorehq/railcore/internal/apierror"
)

// CreateInstrument registers a new spending instrument.
func (a Api) CreateInstrument(c *gin.Context) {
	var newInstrument model2.CreateInstrument
	if err := c.ShouldBindJSON(&newInstrument); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	err := newInstrument.ValidateCreateInstrument()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	instrument, err := a.railcore.CreateInstrument(c.Request.Context(), newInstrument.ToInstrument())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, instrument)
}

// GetInstrument retrieves an instrument by its ID.
func (a Api) GetInstrument(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /instruments/:id"})
		return
	}

	instrument, err := a.railcore.GetInstrument(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, instrument)
}

// FreezeInstrument suspends authorizations on an instrument.
func (a Api) FreezeInstrument(c *gin.Context) {
	a.applyInstrumentAction(c, a.railcore.FreezeInstrument)
}

// UnfreezeInstrument restores a frozen instrument.
func (a Api) UnfreezeInstrument(c *gin.Context) {
	a.applyInstrumentAction(c, a.railcore.UnfreezeInstrument)
}

// CloseInstrument permanently closes an instrument.
func (a Api) CloseInstrument(c *gin.Context) {
	a.applyInstrumentAction(c, a.railcore.CloseInstrument)
}

func (a Api) applyInstrumentAction(c *gin.Context, action func(ctx context.Context, id string) error) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /instruments/:id"})
		return
	}

	if err := action(c.Request.Context(), id); err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	instrument, err := a.railcore.GetInstrument(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, instrument)
}
