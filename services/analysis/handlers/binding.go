// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/gembaworks/gembaflow/services/analysis/datatypes"
)

// Custom binding validations, registered once on Gin's validator engine so
// enum fields are rejected at bind time instead of deep in the store.
func init() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("artifactstatus", func(fl validator.FieldLevel) bool {
		switch datatypes.ArtifactStatus(fl.Field().String()) {
		case datatypes.StatusDraft, datatypes.StatusConfirmed,
			datatypes.StatusAccepted, datatypes.StatusRejected:
			return true
		}
		return false
	})
}
