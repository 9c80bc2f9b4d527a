// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the analysis service.
//
// # Identity Flow
//
// Authentication is external: an upstream gateway resolves the session and
// attaches the authenticated user as the X-User-ID header. This middleware
// trusts that header as given, rejects requests without it, and stores the
// user ID in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	RequireIdentity
//	   │
//	   ├─► Read "X-User-ID" header
//	   │
//	   └─► Store user ID in context
//	           │
//	           ▼
//	       Handler (retrieves via UserID)
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// userIDKey is the context key for the authenticated user ID.
// Using a namespaced key prevents collisions with other context values.
const userIDKey = "gembaflow_user_id"

// HeaderUserID is the trusted upstream identity header.
const HeaderUserID = "X-User-ID"

// RequireIdentity rejects requests lacking the upstream identity header and
// stores the user ID in the context for handlers.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(HeaderUserID)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing " + HeaderUserID + " header",
			})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated user ID stored by RequireIdentity.
// The second return is false when the middleware did not run.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
