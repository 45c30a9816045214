// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package advisor

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/datatypes"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/eligibility"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/graph"
)

// Handlers holds the HTTP handlers for the advisor API.
type Handlers struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandlers creates the handlers.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc, logger: svc.logger}
}

// chatRequest is the POST /chat body.
type chatRequest struct {
	ConversationID string                    `json:"conversation_id,omitempty"`
	Query          string                    `json:"query" binding:"required"`
	Profile        datatypes.StudentProfile  `json:"profile"`
}

// HandleChat runs one advisor turn.
func (h *Handlers) HandleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	result, err := h.svc.Chat(c.Request.Context(), req.ConversationID, req.Query, req.Profile)
	if err != nil {
		h.logger.Error("chat turn failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "chat turn failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleEligibility evaluates a full eligibility request.
func (h *Handlers) HandleEligibility(c *gin.Context) {
	var req eligibility.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.Program == "" || req.TargetTerm == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "program and target_term are required"})
		return
	}

	report, err := h.svc.Eligibility(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("eligibility evaluation failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "eligibility evaluation failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// courseRelation is the shared handler shape for the relation endpoints.
func (h *Handlers) courseRelation(c *gin.Context, relation string, lookup func(string) []*graph.CourseNode) {
	code := strings.ToUpper(strings.TrimSpace(c.Param("code")))
	if h.svc.graph.CourseByCode(code) == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "course not found", "code": code})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    code,
		relation:  lookup(code),
	})
}

// HandlePrerequisites returns a course's direct prerequisites.
func (h *Handlers) HandlePrerequisites(c *gin.Context) {
	h.courseRelation(c, "prerequisites", h.svc.graph.DirectPrerequisites)
}

// HandleCorequisites returns a course's corequisites.
func (h *Handlers) HandleCorequisites(c *gin.Context) {
	h.courseRelation(c, "corequisites", h.svc.graph.Corequisites)
}

// HandleIncompatibilities returns a course's exclusion set.
func (h *Handlers) HandleIncompatibilities(c *gin.Context) {
	h.courseRelation(c, "incompatibilities", h.svc.graph.Incompatibilities)
}

// HandleUnlocks returns the courses a course unlocks.
func (h *Handlers) HandleUnlocks(c *gin.Context) {
	h.courseRelation(c, "unlocks", h.svc.graph.UnlockedBy)
}

// HandleChain returns the multi-hop prerequisite tree for a course.
func (h *Handlers) HandleChain(c *gin.Context) {
	code := strings.ToUpper(strings.TrimSpace(c.Param("code")))
	chain := h.svc.graph.PrerequisiteChain(code, 0)
	if chain == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "course not found", "code": code})
		return
	}
	c.JSON(http.StatusOK, chain)
}

// HandlePath returns prerequisite paths between two courses.
//
// Query parameters: from, to (course codes, required).
func (h *Handlers) HandlePath(c *gin.Context) {
	from := strings.ToUpper(strings.TrimSpace(c.Query("from")))
	to := strings.ToUpper(strings.TrimSpace(c.Query("to")))
	if from == "" || to == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and to query parameters are required"})
		return
	}
	if h.svc.graph.CourseByCode(from) == nil || h.svc.graph.CourseByCode(to) == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "course not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"from":     from,
		"to":       to,
		"shortest": h.svc.graph.ShortestPath(from, to),
		"paths":    h.svc.graph.AllPaths(from, to, 0),
	})
}

// HandleHealth reports service liveness and graph stats.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"dataset": h.svc.graph.Dataset,
		"nodes":   h.svc.graph.NodeCount(),
		"edges":   h.svc.graph.EdgeCount(),
	})
}
