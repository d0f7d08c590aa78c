// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance. Field names in validation
// errors resolve to JSON tag names so rejection reasons match the wire
// format.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateEvent checks one record against the minimal schema and returns the
// parsed event, or a rejection reason.
//
// A record passes when its id-forming fields are present, its event type is
// one of the four known kinds, its timestamp parses as RFC 3339, and (for
// transaction events) a counterparty is present.
func validateEvent(index int, e *RawEvent) (parsedEvent, string) {
	if err := validate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		reason := ReasonMissingField
		if ok := asValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			reason = ReasonMissingField + ":" + verrs[0].Field()
		}
		return parsedEvent{}, reason
	}

	typ := ParseEventType(e.EventType)
	if typ == EventUnknown {
		return parsedEvent{}, ReasonUnknownEventType
	}

	ts, err := time.Parse(time.RFC3339, e.Timestamp)
	if err != nil {
		return parsedEvent{}, ReasonBadTimestamp
	}

	if typ == EventTransaction && e.CounterpartyRef == "" {
		return parsedEvent{}, ReasonMissingCounterparty
	}

	return parsedEvent{
		index: index,
		id:    e.EventID(),
		typ:   typ,
		time:  ts,
		raw:   e,
	}, ""
}

// asValidationErrors unwraps a validator error without asserting directly,
// since validate.Struct can also return InvalidValidationError.
func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*target = verrs
	return true
}
