package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from string
		to   string
		want bool
	}{
		{TransactionStatusPending, TransactionStatusProcessing, true},
		{TransactionStatusPending, TransactionStatusCompleted, true},
		{TransactionStatusPending, TransactionStatusFailed, true},
		{TransactionStatusProcessing, TransactionStatusCompleted, true},
		{TransactionStatusProcessing, TransactionStatusFailed, true},
		{TransactionStatusCompleted, TransactionStatusRefunded, true},
		{TransactionStatusFailed, TransactionStatusRefunded, true},

		// 终态不可逆
		{TransactionStatusCompleted, TransactionStatusPending, false},
		{TransactionStatusCompleted, TransactionStatusProcessing, false},
		{TransactionStatusRefunded, TransactionStatusCompleted, false},
		{TransactionStatusRefunded, TransactionStatusPending, false},
		{TransactionStatusFailed, TransactionStatusCompleted, false},

		// 不能跳回去
		{TransactionStatusProcessing, TransactionStatusPending, false},
		{TransactionStatusPending, TransactionStatusRefunded, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransitionTo(tt.from, tt.to))
		})
	}
}

func TestIsTerminalStatus(t *testing.T) {
	assert.False(t, IsTerminalStatus(TransactionStatusPending))
	assert.False(t, IsTerminalStatus(TransactionStatusProcessing))
	assert.True(t, IsTerminalStatus(TransactionStatusCompleted))
	assert.True(t, IsTerminalStatus(TransactionStatusFailed))
	assert.True(t, IsTerminalStatus(TransactionStatusRefunded))
}

func TestCanEscrowTransitionTo(t *testing.T) {
	tests := []struct {
		from string
		to   string
		want bool
	}{
		{EscrowStatusActive, EscrowStatusReleased, true},
		{EscrowStatusActive, EscrowStatusRefunded, true},
		{EscrowStatusActive, EscrowStatusDisputed, true},
		{EscrowStatusDisputed, EscrowStatusReleased, true},
		{EscrowStatusDisputed, EscrowStatusRefunded, true},

		// 放款/退款后不可再动
		{EscrowStatusReleased, EscrowStatusRefunded, false},
		{EscrowStatusReleased, EscrowStatusActive, false},
		{EscrowStatusRefunded, EscrowStatusReleased, false},
		{EscrowStatusDisputed, EscrowStatusActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			assert.Equal(t, tt.want, CanEscrowTransitionTo(tt.from, tt.to))
		})
	}
}
