package events

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/retail-ledger/internal/domain"
)

func sampleTransferOut() *domain.LedgerEntry {
	recipient := int64(2)
	return &domain.LedgerEntry{
		ID:                    41,
		AccountID:             1,
		Kind:                  domain.EntryKindTransfer,
		Direction:             domain.DirectionDebit,
		Amount:                25050,
		CounterpartyAccountID: &recipient,
		BalanceBefore:         100000,
		BalanceAfter:          74950,
		OccurredAt:            time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestToMessages(t *testing.T) {
	msgs, err := toMessages([]EntryPosted{NewEntryPosted(sampleTransferOut())})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	assert.Equal(t, "1", string(msgs[0].Key))
	assert.Equal(t, TypeEntryPosted, string(msgs[0].Headers[0].Value))

	var body map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Value, &body))
	assert.Equal(t, float64(41), body["entryId"])
	assert.Equal(t, 250.5, body["amount"])
	assert.Equal(t, float64(2), body["counterpartyAccountId"])
	assert.Equal(t, "debit", body["direction"])
}

func TestNewEntryPosted_OmitsCounterpartyForDeposits(t *testing.T) {
	e := sampleTransferOut()
	e.Kind, e.Direction, e.CounterpartyAccountID = domain.EntryKindDeposit, domain.DirectionCredit, nil

	data, err := json.Marshal(NewEntryPosted(e))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "counterpartyAccountId")
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, p.Publish(context.Background(), NewEntryPosted(sampleTransferOut())))
	assert.Contains(t, buf.String(), `"entry_id":41`)
	assert.Contains(t, buf.String(), `"amount":"250.50"`)
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_UnreachableBrokerIsBounded(t *testing.T) {
	p := NewKafkaPublisher([]string{"127.0.0.1:1"}, "ledger.entries", 200*time.Millisecond)
	t.Cleanup(func() { p.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := p.Publish(ctx, NewEntryPosted(sampleTransferOut()))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
