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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all advisor routes with the router group.
//
// Endpoints:
//
//	POST /v1/advisor/chat - Run one advisor turn
//	POST /v1/advisor/eligibility - Full eligibility evaluation
//	GET  /v1/advisor/course/:code/prerequisites - Direct prerequisites
//	GET  /v1/advisor/course/:code/corequisites - Corequisites
//	GET  /v1/advisor/course/:code/incompatibilities - Exclusion courses
//	GET  /v1/advisor/course/:code/unlocks - Courses unlocked
//	GET  /v1/advisor/course/:code/chain - Multi-hop prerequisite tree
//	GET  /v1/advisor/path?from=X&to=Y - Prerequisite paths between courses
//	GET  /v1/advisor/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	adv := rg.Group("/advisor")
	{
		adv.POST("/chat", handlers.HandleChat)
		adv.POST("/eligibility", handlers.HandleEligibility)

		course := adv.Group("/course/:code")
		{
			course.GET("/prerequisites", handlers.HandlePrerequisites)
			course.GET("/corequisites", handlers.HandleCorequisites)
			course.GET("/incompatibilities", handlers.HandleIncompatibilities)
			course.GET("/unlocks", handlers.HandleUnlocks)
			course.GET("/chain", handlers.HandleChain)
		}

		adv.GET("/path", handlers.HandlePath)
		adv.GET("/health", handlers.HandleHealth)
	}
}
