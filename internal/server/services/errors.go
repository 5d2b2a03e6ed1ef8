package services

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/models"
)

// InvalidRequestError rejects a whole sync request. Fields lists problems
// with the request envelope, Records the pushed records that failed
// validation.
type InvalidRequestError struct {
	Fields  []models.FieldError       `json:"fields,omitempty"`
	Records []*models.ValidationError `json:"records,omitempty"`
}

func (e *InvalidRequestError) Error() string {
	parts := make([]string, 0, len(e.Fields)+1)
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	if n := len(e.Records); n > 0 {
		parts = append(parts, fmt.Sprintf("%d invalid record(s), first: %v", n, e.Records[0]))
	}
	return "invalid sync request: " + strings.Join(parts, "; ")
}

func (e *InvalidRequestError) Unwrap() error { return common.ErrValidation }

func (e *InvalidRequestError) empty() bool {
	return len(e.Fields) == 0 && len(e.Records) == 0
}
