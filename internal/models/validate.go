package models

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dmitrijs2005/finkeeper/internal/common"
)

const maxIDLen = 128

var currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in one entity.
type ValidationError struct {
	Kind   Kind         `json:"type"`
	ID     string       `json:"id"`
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.ID, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return common.ErrValidation }

type errs []FieldError

func (e *errs) add(field, msg string) { *e = append(*e, FieldError{Field: field, Message: msg}) }

func (e errs) result(k Kind, id string) error {
	if len(e) == 0 {
		return nil
	}
	return &ValidationError{Kind: k, ID: id, Fields: e}
}

func validateBase(b *Base, e *errs) {
	switch {
	case strings.TrimSpace(b.ID) == "":
		e.add("id", "required")
	case len(b.ID) > maxIDLen:
		e.add("id", "too long")
	}
	if b.CreatedAt < 0 {
		e.add("created_at", "must not be negative")
	}
	if b.UpdatedAt < 0 {
		e.add("updated_at", "must not be negative")
	}
}

func (s *Settings) Validate() error {
	var e errs
	validateBase(&s.Base, &e)
	if s.ID != SettingsID {
		e.add("id", "must be "+SettingsID)
	}
	if !currencyRe.MatchString(s.Currency) {
		e.add("currency", "must be a three letter ISO code")
	}
	if s.FirstDayOfMonth < 1 || s.FirstDayOfMonth > 28 {
		e.add("first_day_of_month", "must be between 1 and 28")
	}
	return e.result(KindSettings, s.ID)
}

func (c *Category) Validate() error {
	var e errs
	validateBase(&c.Base, &e)
	if strings.TrimSpace(c.Name) == "" {
		e.add("name", "required")
	}
	if c.Type != CategoryIncome && c.Type != CategoryExpense {
		e.add("type", "must be income or expense")
	}
	if c.ParentID != "" && c.ParentID == c.ID {
		e.add("parent_id", "must not reference itself")
	}
	return e.result(KindCategories, c.ID)
}

func (t *Transaction) Validate() error {
	var e errs
	validateBase(&t.Base, &e)
	switch t.Type {
	case TxIncome, TxExpense, TxTransfer:
		if t.AmountCents <= 0 {
			e.add("amount_cents", "must be positive for "+string(t.Type))
		}
	case TxAdjustment:
		if t.AmountCents == 0 {
			e.add("amount_cents", "must not be zero")
		}
	default:
		e.add("type", "must be one of income, expense, transfer, adjustment")
	}
	if t.OccurredAt <= 0 {
		e.add("occurred_at", "required")
	}
	return e.result(KindTransactions, t.ID)
}

func (b *Budget) Validate() error {
	var e errs
	validateBase(&b.Base, &e)
	if b.CategoryID == "" {
		e.add("category_id", "required")
	}
	switch b.Period {
	case PeriodWeekly, PeriodMonthly, PeriodYearly, PeriodCustom:
	default:
		e.add("period", "must be one of weekly, monthly, yearly, custom")
	}
	if b.PeriodEnd <= b.PeriodStart {
		e.add("period_end", "must be after period_start")
	}
	if b.AllocatedCents < 0 {
		e.add("allocated_cents", "must not be negative")
	}
	return e.result(KindBudgets, b.ID)
}

func (g *Goal) Validate() error {
	var e errs
	validateBase(&g.Base, &e)
	if strings.TrimSpace(g.Name) == "" {
		e.add("name", "required")
	}
	if g.TargetCents <= 0 {
		e.add("target_cents", "must be positive")
	}
	if g.SavedCents < 0 {
		e.add("saved_cents", "must not be negative")
	}
	if g.DueAt < 0 {
		e.add("due_at", "must not be negative")
	}
	return e.result(KindGoals, g.ID)
}
