package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

// AddrAmount is one (address, amount) entry in a transaction's senders or
// receivers list. On the wire it is a 2-element JSON array
// (`[addr, amount]`), not an object with named fields.
type AddrAmount struct {
	Address Address
	Amount  int64
}

// MarshalJSON implements json.Marshaler, encoding the pair as `[addr, amount]`.
func (p AddrAmount) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{string(p.Address), p.Amount})
}

// UnmarshalJSON implements json.Unmarshaler for the `[addr, amount]` form.
func (p *AddrAmount) UnmarshalJSON(b []byte) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(b, &arr); err != nil {
		return fmt.Errorf("addramount: %w", err)
	}
	if len(arr) != 2 {
		return fmt.Errorf("addramount: expected 2-element array, got %d", len(arr))
	}
	var addr string
	if err := json.Unmarshal(arr[0], &addr); err != nil {
		return fmt.Errorf("addramount: address: %w", err)
	}
	var num json.Number
	if err := json.Unmarshal(arr[1], &num); err != nil {
		return fmt.Errorf("addramount: amount: %w", err)
	}
	amt, err := num.Int64()
	if err != nil {
		return fmt.Errorf("addramount: amount: %w", err)
	}
	p.Address = Address(addr)
	p.Amount = amt
	return nil
}

// Transaction carries senders and receivers only. There is no script and no
// signature; any senders list is trusted as-is.
type Transaction struct {
	Senders   []AddrAmount
	Receivers []AddrAmount
}

// NewTransaction enforces the creation-time invariants: both lists
// non-empty, and total sender amount must cover total receiver amount. The
// duplicate-sender check belongs to validation time and is deliberately not
// performed here.
func NewTransaction(senders, receivers []AddrAmount) (*Transaction, error) {
	if len(senders) == 0 {
		return nil, errors.New("transaction: senders must not be empty")
	}
	if len(receivers) == 0 {
		return nil, errors.New("transaction: receivers must not be empty")
	}
	var totalIn, totalOut int64
	for _, s := range senders {
		totalIn += s.Amount
	}
	for _, r := range receivers {
		totalOut += r.Amount
	}
	if totalIn < totalOut {
		return nil, fmt.Errorf("transaction: senders total %d less than receivers total %d", totalIn, totalOut)
	}
	return &Transaction{Senders: senders, Receivers: receivers}, nil
}

// MarshalJSON implements json.Marshaler using the canonical key-sorted
// form. encoding/json sorts map[string]any keys lexically, which is exactly
// the ordering the hash depends on.
func (tx Transaction) MarshalJSON() ([]byte, error) {
	return canonicalObject(map[string]any{
		"senders":   tx.Senders,
		"receivers": tx.Receivers,
	}), nil
}

// UnmarshalJSON implements json.Unmarshaler for the canonical form.
func (tx *Transaction) UnmarshalJSON(b []byte) error {
	var wire struct {
		Senders   []AddrAmount `json:"senders"`
		Receivers []AddrAmount `json:"receivers"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return fmt.Errorf("transaction: %w", err)
	}
	tx.Senders = wire.Senders
	tx.Receivers = wire.Receivers
	return nil
}

// HashTx computes the transaction's canonical SHA3-256 hash. It is always
// recomputed: a Transaction is small and immutable once constructed, so
// there is nothing to invalidate a cache against.
func (tx *Transaction) HashTx() Hash {
	b, err := json.Marshal(tx)
	if err != nil {
		panic("core: transaction marshal: " + err.Error())
	}
	return hashBytes(b)
}

// hasDuplicateSender reports whether any address appears more than once
// among tx.Senders.
func (tx *Transaction) hasDuplicateSender() bool {
	seen := make(map[Address]struct{}, len(tx.Senders))
	for _, s := range tx.Senders {
		if _, ok := seen[s.Address]; ok {
			return true
		}
		seen[s.Address] = struct{}{}
	}
	return false
}

// TransactionStore is the ordered sequence of transactions a block carries.
// Empty is allowed.
type TransactionStore []*Transaction

// canonicalStrings renders each transaction to its own canonical JSON text
// and returns the resulting strings in order — inside a block the
// transaction store is an array of stringified transaction JSONs, not an
// array of objects.
func (ts TransactionStore) canonicalStrings() []string {
	out := make([]string, len(ts))
	for i, tx := range ts {
		b, err := json.Marshal(tx)
		if err != nil {
			panic("core: transaction marshal: " + err.Error())
		}
		out[i] = string(b)
	}
	return out
}

// transactionStoreFromStrings parses the double-encoded form back into a
// TransactionStore, the inverse of canonicalStrings.
func transactionStoreFromStrings(strs []string) (TransactionStore, error) {
	out := make(TransactionStore, len(strs))
	for i, s := range strs {
		tx := &Transaction{}
		if err := json.Unmarshal([]byte(s), tx); err != nil {
			return nil, fmt.Errorf("transactionStore[%d]: %w", i, err)
		}
		out[i] = tx
	}
	return out, nil
}
