package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDate(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	in := time.Date(2024, time.March, 9, 23, 30, 15, 42, loc)

	got := NormalizeDate(in)

	assert.Equal(t, time.Date(2024, time.March, 9, 0, 0, 0, 0, time.UTC), got)
	assert.Equal(t, "2024-03-09", got.Format(DateLayout))
}

func TestExpenseFilterIsEmpty(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	amount := 5.0

	assert.True(t, ExpenseFilter{}.IsEmpty())
	assert.True(t, ExpenseFilter{OwnerID: "7"}.IsEmpty(), "owner alone is not a search condition")
	assert.False(t, ExpenseFilter{Query: "coffee"}.IsEmpty())
	assert.False(t, ExpenseFilter{StartDate: &day}.IsEmpty())
	assert.False(t, ExpenseFilter{MaxAmount: &amount}.IsEmpty())
}
