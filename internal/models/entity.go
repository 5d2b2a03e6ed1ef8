package models

// SettingsID is the fixed id of the settings singleton.
const SettingsID = "settings"

// Base carries the fields every synchronized entity shares. UpdatedAt is
// the only ordering key used for conflict resolution.
type Base struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	Deleted   bool   `json:"deleted"`
	ClientID  string `json:"client_id,omitempty"`
}

// Meta exposes the shared fields of an embedding entity.
func (b *Base) Meta() *Base { return b }

// Entity is implemented by every typed model.
type Entity interface {
	Kind() Kind
	Meta() *Base
	Validate() error
}

type CategoryKind string

const (
	CategoryIncome  CategoryKind = "income"
	CategoryExpense CategoryKind = "expense"
)

type TransactionType string

const (
	TxIncome     TransactionType = "income"
	TxExpense    TransactionType = "expense"
	TxTransfer   TransactionType = "transfer"
	TxAdjustment TransactionType = "adjustment"
)

type BudgetPeriod string

const (
	PeriodWeekly  BudgetPeriod = "weekly"
	PeriodMonthly BudgetPeriod = "monthly"
	PeriodYearly  BudgetPeriod = "yearly"
	PeriodCustom  BudgetPeriod = "custom"
)

type Settings struct {
	Base
	Currency        string `json:"currency"`
	Locale          string `json:"locale,omitempty"`
	FirstDayOfMonth int    `json:"first_day_of_month"`
}

func (*Settings) Kind() Kind { return KindSettings }

type Category struct {
	Base
	Name     string       `json:"name"`
	Type     CategoryKind `json:"type"`
	Color    string       `json:"color,omitempty"`
	ParentID string       `json:"parent_id,omitempty"`
}

func (*Category) Kind() Kind { return KindCategories }

// Transaction amounts are integer minor units. The sign is carried by Type,
// except for adjustments which may be negative.
type Transaction struct {
	Base
	AmountCents int64           `json:"amount_cents"`
	Type        TransactionType `json:"type"`
	CategoryID  string          `json:"category_id,omitempty"`
	GoalID      string          `json:"goal_id,omitempty"`
	OccurredAt  int64           `json:"occurred_at"`
	Note        string          `json:"note,omitempty"`
}

func (*Transaction) Kind() Kind { return KindTransactions }

type Budget struct {
	Base
	CategoryID     string       `json:"category_id"`
	Period         BudgetPeriod `json:"period"`
	PeriodStart    int64        `json:"period_start"`
	PeriodEnd      int64        `json:"period_end"`
	AllocatedCents int64        `json:"allocated_cents"`
}

func (*Budget) Kind() Kind { return KindBudgets }

type Goal struct {
	Base
	Name        string `json:"name"`
	TargetCents int64  `json:"target_cents"`
	SavedCents  int64  `json:"saved_cents"`
	DueAt       int64  `json:"due_at,omitempty"`
}

func (*Goal) Kind() Kind { return KindGoals }
